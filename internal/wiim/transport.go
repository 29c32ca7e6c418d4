package wiim

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// connectionTimeout bounds the whole HTTP client.
	connectionTimeout = 10 * time.Second
	// requestTimeout bounds each individual call.
	requestTimeout = 5 * time.Second
	// minRequestGap is the minimum spacing between outgoing requests. The
	// firmware drops or garbles commands that arrive faster than this.
	minRequestGap = 200 * time.Millisecond
)

// Client talks to the WiiM HTTP control API. A single Client serializes all
// outgoing requests through a shared last-request watermark; polls, probes,
// and commands all share the same throttle.
type Client struct {
	host       string
	httpClient *http.Client
	clock      Clock
	log        zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a client for the device at host (IP or host[:port]).
func NewClient(host string, logger zerolog.Logger) *Client {
	// WiiM devices serve their API behind a self-signed cert
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout:   connectionTimeout,
			Transport: tr,
		},
		clock: realClock{},
		log:   logger.With().Str("component", "transport").Str("host", host).Logger(),
	}
}

// Host returns the device address this client talks to.
func (c *Client) Host() string {
	return c.host
}

// Send issues one command and returns the raw response body. Non-2xx
// responses and transport errors come back as errors; callers translate
// them into Unavailable state or a skipped update, never a crash.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	c.throttle()

	// Commands go into the query string verbatim; the firmware does not
	// decode percent-escapes.
	reqURL := fmt.Sprintf("https://%s/httpapi.asp?command=%s", c.host, command)
	c.log.Debug().Str("command", command).Msg("request")

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("command", command).Msg("API request error")
		return "", fmt.Errorf("send %q: %w", command, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error().Int("status", resp.StatusCode).Str("command", command).Msg("API request failed")
		return "", fmt.Errorf("send %q: status %d", command, resp.StatusCode)
	}

	return string(body), nil
}

// throttle blocks until minRequestGap has elapsed since the previous request
// and advances the watermark. Concurrent callers queue up on the mutex.
func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := minRequestGap - c.clock.Now().Sub(c.lastRequest); wait > 0 {
		c.clock.Sleep(wait)
	}
	c.lastRequest = c.clock.Now()
}

// sendJSON issues a command and decodes the JSON response into v. Malformed
// payloads are logged and surfaced as an error, same as transport failures.
func (c *Client) sendJSON(ctx context.Context, command string, v any) error {
	text, err := c.Send(ctx, command)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		c.log.Error().Err(err).Str("command", command).Msg("malformed JSON response")
		return fmt.Errorf("decode %q response: %w", command, err)
	}
	return nil
}

// GetDeviceInfo fetches basic device information. This doubles as the
// connectivity test during setup.
func (c *Client) GetDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	var info DeviceInfo
	if err := c.sendJSON(ctx, "getStatusEx", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPlayerStatus fetches the current playback status snapshot.
func (c *Client) GetPlayerStatus(ctx context.Context) (*PlayerStatus, error) {
	var status PlayerStatus
	if err := c.sendJSON(ctx, "getPlayerStatus", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetTrackMetadata fetches the current track metadata. A response without a
// metaData object is "no metadata", not an error.
func (c *Client) GetTrackMetadata(ctx context.Context) (*TrackMetadata, error) {
	var resp metaInfoResponse
	if err := c.sendJSON(ctx, "getMetaInfo", &resp); err != nil {
		return nil, err
	}
	return resp.MetaData, nil
}

// GetEQList fetches the available EQ preset names.
func (c *Client) GetEQList(ctx context.Context) ([]string, error) {
	var list []string
	if err := c.sendJSON(ctx, "EQGetList", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetPresetInfo fetches the user preset slots.
func (c *Client) GetPresetInfo(ctx context.Context) ([]Preset, error) {
	var resp presetInfoResponse
	if err := c.sendJSON(ctx, "getPresetInfo", &resp); err != nil {
		return nil, err
	}
	return resp.PresetList, nil
}

// GetAudioOutputMode probes the audio output hardware mode and capability
// flags.
func (c *Client) GetAudioOutputMode(ctx context.Context) (*AudioOutputStatus, error) {
	var status AudioOutputStatus
	if err := c.sendJSON(ctx, "getNewAudioOutputHardwareMode", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ResumePlayback resumes playback.
func (c *Client) ResumePlayback(ctx context.Context) error {
	_, err := c.Send(ctx, "setPlayerCmd:resume")
	return err
}

// PausePlayback pauses playback.
func (c *Client) PausePlayback(ctx context.Context) error {
	_, err := c.Send(ctx, "setPlayerCmd:pause")
	return err
}

// TogglePlayback toggles between play and pause.
func (c *Client) TogglePlayback(ctx context.Context) error {
	_, err := c.Send(ctx, "setPlayerCmd:onepause")
	return err
}

// StopPlayback stops playback.
func (c *Client) StopPlayback(ctx context.Context) error {
	_, err := c.Send(ctx, "setPlayerCmd:stop")
	return err
}

// NextTrack skips to the next track.
func (c *Client) NextTrack(ctx context.Context) error {
	_, err := c.Send(ctx, "setPlayerCmd:next")
	return err
}

// PreviousTrack skips to the previous track.
func (c *Client) PreviousTrack(ctx context.Context) error {
	_, err := c.Send(ctx, "setPlayerCmd:prev")
	return err
}

// SetVolume sets the volume level, clamped to 0-100.
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	_, err := c.Send(ctx, fmt.Sprintf("setPlayerCmd:vol:%d", volume))
	return err
}

// VolumeUp raises the volume by 5.
func (c *Client) VolumeUp(ctx context.Context) error {
	status, err := c.GetPlayerStatus(ctx)
	if err != nil {
		return err
	}
	return c.SetVolume(ctx, status.Volume()+5)
}

// VolumeDown lowers the volume by 5.
func (c *Client) VolumeDown(ctx context.Context) error {
	status, err := c.GetPlayerStatus(ctx)
	if err != nil {
		return err
	}
	return c.SetVolume(ctx, status.Volume()-5)
}

// SetMute sets the mute state.
func (c *Client) SetMute(ctx context.Context, muted bool) error {
	flag := 0
	if muted {
		flag = 1
	}
	_, err := c.Send(ctx, fmt.Sprintf("setPlayerCmd:mute:%d", flag))
	return err
}

// ToggleMute flips the current mute state.
func (c *Client) ToggleMute(ctx context.Context) error {
	status, err := c.GetPlayerStatus(ctx)
	if err != nil {
		return err
	}
	return c.SetMute(ctx, !status.Muted())
}

// SwitchSource switches the active input source (wifi, bluetooth, line-in,
// optical, HDMI, phono, udisk).
func (c *Client) SwitchSource(ctx context.Context, source string) error {
	_, err := c.Send(ctx, "setPlayerCmd:switchmode:"+source)
	return err
}

// SetAudioOutputMode selects the audio output hardware mode.
func (c *Client) SetAudioOutputMode(ctx context.Context, mode int) error {
	_, err := c.Send(ctx, fmt.Sprintf("setAudioOutputHardwareMode:%d", mode))
	return err
}

// SetDisplayOff turns the front display off (or back on).
func (c *Client) SetDisplayOff(ctx context.Context, off bool) error {
	disable := 0
	if off {
		disable = 1
	}
	_, err := c.Send(ctx, fmt.Sprintf(`setLightOperationBrightConfig:{"disable":%d}`, disable))
	return err
}

// Reboot reboots the device.
func (c *Client) Reboot(ctx context.Context) error {
	c.log.Warn().Msg("device reboot command sent")
	_, err := c.Send(ctx, "reboot")
	return err
}

// EQOn enables the equalizer.
func (c *Client) EQOn(ctx context.Context) error {
	_, err := c.Send(ctx, "EQOn")
	return err
}

// EQOff disables the equalizer.
func (c *Client) EQOff(ctx context.Context) error {
	_, err := c.Send(ctx, "EQOff")
	return err
}

// EQLoad loads an EQ preset by display name.
func (c *Client) EQLoad(ctx context.Context, name string) error {
	_, err := c.Send(ctx, "EQLoad:"+name)
	return err
}

// PressPreset simulates a short press of a numbered preset key.
func (c *Client) PressPreset(ctx context.Context, number int) error {
	_, err := c.Send(ctx, fmt.Sprintf("MCUKeyShortClick:%d", number))
	return err
}
