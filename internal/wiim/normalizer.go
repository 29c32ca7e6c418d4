package wiim

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LifecycleState is the canonical playback lifecycle.
type LifecycleState string

const (
	StateStandby     LifecycleState = "standby"
	StatePlaying     LifecycleState = "playing"
	StatePaused      LifecycleState = "paused"
	StateUnavailable LifecycleState = "unavailable"
)

// PlaybackState is the canonical, presentation-ready view of one device.
// Text fields are empty when cleared; duration/position are present only
// for tracks with a known length (never for radio/live streams).
type PlaybackState struct {
	State       LifecycleState `json:"state"`
	Volume      int            `json:"volume"`
	Muted       bool           `json:"muted"`
	Repeat      string         `json:"repeat"`
	Shuffle     bool           `json:"shuffle"`
	Source      string         `json:"source,omitempty"`
	Title       string         `json:"title,omitempty"`
	Artist      string         `json:"artist,omitempty"`
	Album       string         `json:"album,omitempty"`
	ArtworkURL  string         `json:"artwork_url,omitempty"`
	MediaType   string         `json:"media_type,omitempty"`
	DurationSec *int           `json:"duration_sec,omitempty"`
	PositionSec *int           `json:"position_sec,omitempty"`
}

// Clone returns an independent copy safe to hand to other goroutines.
func (s PlaybackState) Clone() PlaybackState {
	out := s
	if s.DurationSec != nil {
		d := *s.DurationSec
		out.DurationSec = &d
	}
	if s.PositionSec != nil {
		p := *s.PositionSec
		out.PositionSec = &p
	}
	return out
}

// statusSource is the slice of the transport the normalizer needs.
type statusSource interface {
	GetPlayerStatus(ctx context.Context) (*PlayerStatus, error)
	GetTrackMetadata(ctx context.Context) (*TrackMetadata, error)
}

const (
	// metadataSettleDelay lets the device settle after a metadata clear
	// before the next read. Empirically chosen, tunable.
	metadataSettleDelay = 300 * time.Millisecond

	spotifyMode = 31
)

// radioModes are the sparse-metadata network/radio mode codes.
var radioModes = map[int]bool{10: true, 11: true, 16: true}

// musicModes are the mode codes known to be continuous audio streams.
var musicModes = map[int]bool{31: true, 32: true, 10: true, 11: true, 16: true}

// modeSources maps device mode codes to input source ids. Codes outside the
// table leave the source attribute unchanged.
var modeSources = map[int]string{
	31: "wifi",
	32: "wifi",
	40: "line-in",
	41: "bluetooth",
	43: "optical",
	10: "wifi",
	11: "wifi",
	16: "wifi",
}

// Normalizer converts polled snapshots into PlaybackState. The firmware
// reuses generic "unknown" sentinels and never announces source changes, so
// transitions are inferred from two weak signals (mode code and lifecycle
// status) and stale metadata is cleared explicitly instead of diffed away.
//
// Only the single polling flow touches the memory fields; RequestClear is
// the one concurrent entry point and goes through an atomic flag.
type Normalizer struct {
	api   statusSource
	clock Clock
	log   zerolog.Logger

	state          PlaybackState
	lastMode       *int
	lastStatus     string
	lastMeaningful *TrackMetadata
	clearPending   atomic.Bool
}

// NewNormalizer creates a normalizer reading from api.
func NewNormalizer(api statusSource, clock Clock, logger zerolog.Logger) *Normalizer {
	n := &Normalizer{
		api:   api,
		clock: clock,
		log:   logger.With().Str("component", "normalizer").Logger(),
	}
	n.Reset()
	return n
}

// Reset wipes the memory carried across polls. Called on reconnect.
func (n *Normalizer) Reset() {
	n.state = PlaybackState{State: StateStandby, Repeat: "off"}
	n.lastMode = nil
	n.lastStatus = ""
	n.lastMeaningful = nil
	n.clearPending.Store(false)
}

// RequestClear flags a metadata clear for the next poll. Called after
// commands that switch the input source.
func (n *Normalizer) RequestClear() {
	n.clearPending.Store(true)
}

// Poll runs one fetch-normalize cycle and returns a copy of the resulting
// state. Back-to-back invocations with identical raw input are idempotent.
func (n *Normalizer) Poll(ctx context.Context) PlaybackState {
	status, err := n.api.GetPlayerStatus(ctx)
	if err != nil || status == nil {
		n.clearAllMediaInfo()
		n.state.State = StateUnavailable
		return n.state.Clone()
	}

	// Volume, mute, repeat, and shuffle refresh every poll regardless of
	// any clearing logic.
	n.state.Volume = status.Volume()
	n.state.Muted = status.Muted()
	n.state.Repeat = status.RepeatMode()
	n.state.Shuffle = status.Shuffle()

	playerStatus := status.PlaybackStatus()
	mode := status.ModeCode()

	modeChanged := n.lastMode != nil && *n.lastMode != mode
	needsClearing := modeChanged || n.clearPending.Load() || n.shouldForceClear(mode, playerStatus)

	if needsClearing {
		n.log.Info().
			Interface("prev_mode", n.lastMode).Int("mode", mode).
			Str("prev_status", n.lastStatus).Str("status", playerStatus).
			Msg("clearing cached metadata")
		n.clearAllMediaInfo()
		n.clearPending.Store(false)
		n.clock.Sleep(metadataSettleDelay)
	}

	m := mode
	n.lastMode = &m
	n.lastStatus = playerStatus

	switch playerStatus {
	case "play", "loading", "load":
		n.updateMediaInfo(ctx, status)
		n.state.State = StatePlaying
	case "pause":
		n.updateMediaInfo(ctx, status)
		n.state.State = StatePaused
	case "stop":
		n.clearAllMediaInfo()
		n.state.State = StateStandby
	default:
		n.clearAllMediaInfo()
		n.state.State = StateStandby
	}

	if source, ok := modeSources[mode]; ok {
		n.state.Source = source
	}

	return n.state.Clone()
}

// shouldForceClear fires on transitions the pipeline cannot see from a mode
// or status change alone.
func (n *Normalizer) shouldForceClear(mode int, status string) bool {
	// Spotify carries rich track info; a hop to a radio/network mode must
	// not leak it into the sparse stream metadata.
	if n.lastMode != nil && *n.lastMode == spotifyMode && radioModes[mode] &&
		(status == "play" || status == "loading" || status == "load") {
		n.log.Info().Msg("force clear: spotify to radio/network transition")
		return true
	}

	// Stopping playback always invalidates track info.
	if n.lastMeaningful != nil && status == "stop" &&
		(n.lastStatus == "play" || n.lastStatus == "pause") {
		n.log.Info().Msg("force clear: playback stopped with stale metadata")
		return true
	}

	return false
}

func (n *Normalizer) clearAllMediaInfo() {
	n.state.Title = ""
	n.state.Artist = ""
	n.state.Album = ""
	n.state.ArtworkURL = ""
	n.state.MediaType = ""
	n.state.DurationSec = nil
	n.state.PositionSec = nil
	n.lastMeaningful = nil
}

func (n *Normalizer) updateMediaInfo(ctx context.Context, status *PlayerStatus) {
	metadata, err := n.api.GetTrackMetadata(ctx)
	if err != nil || metadata == nil {
		n.log.Debug().Msg("no metadata available from device")
		return
	}

	n.setPositionDuration(status)

	if hasMeaningfulMetadata(metadata) {
		if title, ok := CleanValue(metadata.Title); ok {
			n.state.Title = title
		}
		if artist, ok := CleanValue(metadata.Artist); ok {
			n.state.Artist = artist
		}
		if album, ok := CleanValue(metadata.Album); ok {
			n.state.Album = album
		}
		if art, ok := CleanValue(metadata.AlbumArtURI); ok {
			n.state.ArtworkURL = art
		}
		n.setMediaType(status)
		meta := *metadata
		n.lastMeaningful = &meta
		return
	}

	// Radio/stream metadata: title and artwork only, artist/album stay at
	// whatever the clearing step left them.
	if title, ok := CleanValue(metadata.Title); ok {
		n.state.Title = title
	}
	if art, ok := CleanValue(metadata.AlbumArtURI); ok {
		n.state.ArtworkURL = art
	}
	n.setMediaType(status)
}

// hasMeaningfulMetadata reports whether the snapshot carries real track
// info: a title plus at least an artist or an album.
func hasMeaningfulMetadata(metadata *TrackMetadata) bool {
	_, hasTitle := CleanValue(metadata.Title)
	_, hasArtist := CleanValue(metadata.Artist)
	_, hasAlbum := CleanValue(metadata.Album)
	return hasTitle && (hasArtist || hasAlbum)
}

// setPositionDuration re-derives duration and position from scratch. A
// positive duration is the only signal that either should be exposed;
// duration 0 means a radio/live stream.
func (n *Normalizer) setPositionDuration(status *PlayerStatus) {
	n.state.DurationSec = nil
	n.state.PositionSec = nil

	duration := status.DurationMS() / 1000
	if duration <= 0 {
		return
	}
	position := status.PositionMS() / 1000

	n.state.DurationSec = &duration
	n.state.PositionSec = &position
}

func (n *Normalizer) setMediaType(status *PlayerStatus) {
	if musicModes[status.ModeCode()] {
		n.state.MediaType = "music"
	}
}
