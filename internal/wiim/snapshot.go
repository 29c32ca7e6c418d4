package wiim

import (
	"strconv"
	"strings"
)

// DeviceInfo contains basic device information from getStatusEx
type DeviceInfo struct {
	DeviceName string `json:"DeviceName"`
	UUID       string `json:"uuid"`
	Firmware   string `json:"firmware"`
	Project    string `json:"project"`
	MAC        string `json:"MAC,omitempty"`
}

// PlayerStatus is one decoded getPlayerStatus response. The firmware reports
// everything as strings and omits fields freely, so every accessor tolerates
// an absent or unparsable value.
type PlayerStatus struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Loop   string `json:"loop"`
	Vol    string `json:"vol"`
	Mute   string `json:"mute"`
	TotLen string `json:"totlen"`
	CurPos string `json:"curpos"`
	EQ     string `json:"eq,omitempty"`
}

// PlaybackStatus returns the lowercased playback status string, defaulting
// to "stop" when the field is absent.
func (s *PlayerStatus) PlaybackStatus() string {
	if s.Status == "" {
		return "stop"
	}
	return strings.ToLower(s.Status)
}

// ModeCode returns the numeric input/service mode code, 0 when absent.
func (s *PlayerStatus) ModeCode() int {
	return atoi(s.Mode)
}

// Volume returns the volume level 0-100, 0 when absent.
func (s *PlayerStatus) Volume() int {
	return atoi(s.Vol)
}

// Muted reports whether the device is muted.
func (s *PlayerStatus) Muted() bool {
	return s.Mute == "1"
}

// DurationMS returns the reported total track length in milliseconds.
func (s *PlayerStatus) DurationMS() int {
	return atoi(s.TotLen)
}

// PositionMS returns the reported playback position in milliseconds.
func (s *PlayerStatus) PositionMS() int {
	return atoi(s.CurPos)
}

// RepeatMode maps the device loop code to off/one/all.
func (s *PlayerStatus) RepeatMode() string {
	switch s.Loop {
	case "1":
		return "one"
	case "2":
		return "all"
	default:
		return "off"
	}
}

// Shuffle reports whether shuffle is active (loop codes 2 and 3).
func (s *PlayerStatus) Shuffle() bool {
	return s.Loop == "2" || s.Loop == "3"
}

// TrackMetadata is the metaData object of one getMetaInfo response. Any
// string field may be a firmware placeholder meaning "unknown".
type TrackMetadata struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtURI string `json:"albumArtURI"`
	Genre       string `json:"genre,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

// metaInfoResponse wraps TrackMetadata on the wire.
type metaInfoResponse struct {
	MetaData *TrackMetadata `json:"metaData"`
}

// presetInfoResponse is the getPresetInfo payload.
type presetInfoResponse struct {
	PresetNum  int      `json:"preset_num"`
	PresetList []Preset `json:"preset_list"`
}

// AudioOutputStatus is the getNewAudioOutputHardwareMode payload. The
// hardware field carries the active mode; source and audiocast are "1"/"0"
// capability flags.
type AudioOutputStatus struct {
	Hardware  string `json:"hardware"`
	Source    string `json:"source"`
	Audiocast string `json:"audiocast"`
}

// SourceEnabled reports the source-follow capability flag.
func (a *AudioOutputStatus) SourceEnabled() bool {
	return a.Source == "1"
}

// AudiocastEnabled reports the audiocast capability flag.
func (a *AudioOutputStatus) AudiocastEnabled() bool {
	return a.Audiocast == "1"
}

// CleanValue filters the firmware's placeholder sentinels out of a metadata
// string. It trims surrounding whitespace and reports false for empty values
// and the case-insensitive placeholder tokens. Cleaning is idempotent.
func CleanValue(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", false
	}
	switch strings.ToLower(v) {
	case "unknow", "un_known", "unknown":
		return "", false
	}
	return v, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
