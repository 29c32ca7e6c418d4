package wiim

import "context"

// Source is one selectable input source.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Preset is one user preset slot discovered on the device.
type Preset struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Output is one selectable audio output mode, keyed by its command id.
type Output struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog holds everything discovered about a device's capabilities. It is
// populated once per connection and replaced wholesale on rediscovery, never
// mutated field by field.
type Catalog struct {
	Sources   []Source `json:"sources"`
	EQPresets []string `json:"eq_presets"`
	Presets   []Preset `json:"presets"`
	Outputs   []Output `json:"outputs"`
}

// standardSources is the fixed input list. The device does not report its
// inputs reliably, so these are never probed.
var standardSources = []Source{
	{ID: "wifi", Name: "WiFi"},
	{ID: "bluetooth", Name: "Bluetooth"},
	{ID: "line-in", Name: "Line In"},
	{ID: "optical", Name: "Optical"},
	{ID: "HDMI", Name: "HDMI"},
	{ID: "phono", Name: "Phono"},
	{ID: "udisk", Name: "USB"},
}

// fallbackOutputs is used when the output probe fails or returns garbage.
// Degraded discovery must still leave the user with the manual outputs.
var fallbackOutputs = []Output{
	{ID: "output_spdif", Name: "SPDIF"},
	{ID: "output_aux", Name: "AUX/Line Out"},
	{ID: "output_coax", Name: "COAX"},
}

// DiscoverCapabilities probes the device and builds a fresh catalog. Probe
// failures degrade to empty lists (EQ, presets) or the fixed output
// fallback; discovery itself never fails.
func (c *Client) DiscoverCapabilities(ctx context.Context) *Catalog {
	c.log.Info().Msg("discovering device capabilities")

	catalog := &Catalog{Sources: standardSources}

	if _, err := c.GetDeviceInfo(ctx); err == nil {
		if eqList, err := c.GetEQList(ctx); err == nil {
			catalog.EQPresets = eqList
			c.log.Info().Int("count", len(eqList)).Msg("discovered EQ presets")
		}
		if presets, err := c.GetPresetInfo(ctx); err == nil {
			catalog.Presets = presets
			c.log.Info().Int("count", len(presets)).Msg("discovered user presets")
		}
	}

	catalog.Outputs = c.discoverOutputs(ctx)

	c.log.Info().Msg("capability discovery completed")
	return catalog
}

func (c *Client) discoverOutputs(ctx context.Context) []Output {
	status, err := c.GetAudioOutputMode(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("audio output probe failed, using fallback outputs")
		return append([]Output(nil), fallbackOutputs...)
	}

	// The three hardware modes are always present; the flags add entries.
	outputs := append([]Output(nil), fallbackOutputs...)
	if status.SourceEnabled() {
		outputs = append(outputs, Output{ID: "output_source", Name: "Follow Source"})
	}
	if status.AudiocastEnabled() {
		outputs = append(outputs, Output{ID: "output_audiocast", Name: "AudioCast"})
	}
	return outputs
}
