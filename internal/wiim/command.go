package wiim

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownCommand signals a command outside the vocabulary. Callers treat
// it as "not implemented", not as a failure of the dispatch path.
var ErrUnknownCommand = errors.New("unknown command")

// TokenKind tags a parsed command token.
type TokenKind int

const (
	// TokenUnknown is anything the tokenizer could not match.
	TokenUnknown TokenKind = iota
	// TokenPlain is a static base command (transport, volume, display...).
	TokenPlain
	// TokenSource is a fixed input-source literal.
	TokenSource
	// TokenOutput selects an audio output mode (or probes the current one).
	TokenOutput
	// TokenCombo switches an input and an output in sequence.
	TokenCombo
	// TokenService activates the first preset of a service.
	TokenService
	// TokenEQ drives the equalizer: on, off, or a preset slug.
	TokenEQ
	// TokenPreset presses a numbered preset key.
	TokenPreset
)

// Token is one parsed synthetic command. Constructed fresh per dispatch,
// never persisted.
type Token struct {
	Kind   TokenKind
	Name   string // plain/source name, output fragment, service or eq slug
	Number int    // preset number
	Input  string // combo input source
	Output string // combo output fragment
}

// IsDeviceFunction reports whether the token is a display/reboot function,
// which skips the deferred re-poll.
func (t Token) IsDeviceFunction() bool {
	if t.Kind != TokenPlain {
		return false
	}
	switch t.Name {
	case "display_on", "display_off", "toggle_display", "reboot_device":
		return true
	}
	return false
}

// SwitchesSource reports whether the token changes the active input, which
// warrants a metadata clear and a faster re-poll.
func (t Token) SwitchesSource() bool {
	return t.Kind == TokenSource || t.Kind == TokenCombo
}

var plainCommands = map[string]bool{
	"play": true, "pause": true, "stop": true, "next": true, "previous": true,
	"volume_up": true, "volume_down": true, "mute_toggle": true,
	"on": true, "off": true,
	"display_on": true, "display_off": true, "toggle_display": true, "reboot_device": true,
}

var sourceCommands = map[string]bool{
	"wifi": true, "bluetooth": true, "line-in": true, "optical": true,
	"HDMI": true, "phono": true, "udisk": true,
}

// ParseCommand tokenizes a synthetic command string. Matching follows a
// fixed priority order, so prefixed forms never shadow exact base commands.
func ParseCommand(command string) Token {
	switch {
	case plainCommands[command]:
		return Token{Kind: TokenPlain, Name: command}

	case command == "output_get_current":
		return Token{Kind: TokenOutput, Name: "get_current"}

	case strings.HasPrefix(command, "output_"):
		return Token{Kind: TokenOutput, Name: strings.TrimPrefix(command, "output_")}

	case strings.HasPrefix(command, "combo_"):
		rest := strings.TrimPrefix(command, "combo_")
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Token{Kind: TokenUnknown, Name: command}
		}
		return Token{Kind: TokenCombo, Input: parts[0], Output: parts[1]}

	case strings.HasPrefix(command, "service_"):
		return Token{Kind: TokenService, Name: strings.TrimPrefix(command, "service_")}

	case command == "eq_on":
		return Token{Kind: TokenEQ, Name: "on"}

	case command == "eq_off":
		return Token{Kind: TokenEQ, Name: "off"}

	case strings.HasPrefix(command, "eq_"):
		return Token{Kind: TokenEQ, Name: strings.TrimPrefix(command, "eq_")}

	case strings.HasPrefix(command, "preset_"):
		number, err := strconv.Atoi(strings.TrimPrefix(command, "preset_"))
		if err != nil {
			return Token{Kind: TokenUnknown, Name: command}
		}
		return Token{Kind: TokenPreset, Number: number}

	case sourceCommands[command]:
		return Token{Kind: TokenSource, Name: command}
	}

	return Token{Kind: TokenUnknown, Name: command}
}

// deviceControl is the slice of the transport the dispatcher drives.
type deviceControl interface {
	ResumePlayback(ctx context.Context) error
	PausePlayback(ctx context.Context) error
	StopPlayback(ctx context.Context) error
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	ToggleMute(ctx context.Context) error
	SwitchSource(ctx context.Context, source string) error
	SetAudioOutputMode(ctx context.Context, mode int) error
	GetAudioOutputMode(ctx context.Context) (*AudioOutputStatus, error)
	SetDisplayOff(ctx context.Context, off bool) error
	Reboot(ctx context.Context) error
	EQOn(ctx context.Context) error
	EQOff(ctx context.Context) error
	EQLoad(ctx context.Context, name string) error
	PressPreset(ctx context.Context, number int) error
}

const (
	// comboSettleDelay lets an input switch settle before the output-mode
	// command in a combo. Empirically chosen, tunable.
	comboSettleDelay = 500 * time.Millisecond
)

// outputModes maps output-name fragments to hardware mode numbers.
var outputModes = map[string]int{
	"spdif": 1,
	"aux":   2,
	"line":  2,
	"coax":  3,
}

// comboOutputOrder is the substring-match order for combo output
// fragments; first match wins.
var comboOutputOrder = []string{"spdif", "aux", "line", "coax"}

// Dispatcher executes parsed command tokens against the device. Each call
// is sequential; the caller treats dispatch as fire-and-forget.
type Dispatcher struct {
	device  deviceControl
	presets func() []Preset
	clock   Clock
	log     zerolog.Logger
}

// NewDispatcher creates a dispatcher. presets supplies the current user
// preset list (the catalog may be replaced on rediscovery).
func NewDispatcher(device deviceControl, presets func() []Preset, clock Clock, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		device:  device,
		presets: presets,
		clock:   clock,
		log:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Execute runs one token. ErrUnknownCommand marks vocabulary misses;
// transport errors are returned for logging but mean nothing worse than a
// command that did not take.
func (d *Dispatcher) Execute(ctx context.Context, token Token) error {
	switch token.Kind {
	case TokenPlain:
		return d.executePlain(ctx, token.Name)
	case TokenSource:
		return d.device.SwitchSource(ctx, token.Name)
	case TokenOutput:
		return d.executeOutput(ctx, token.Name)
	case TokenCombo:
		return d.executeCombo(ctx, token)
	case TokenService:
		return d.executeService(ctx, token.Name)
	case TokenEQ:
		return d.executeEQ(ctx, token.Name)
	case TokenPreset:
		return d.device.PressPreset(ctx, token.Number)
	}

	d.log.Warn().Str("command", token.Name).Msg("unhandled command")
	return ErrUnknownCommand
}

func (d *Dispatcher) executePlain(ctx context.Context, name string) error {
	switch name {
	case "play":
		return d.device.ResumePlayback(ctx)
	case "pause":
		return d.device.PausePlayback(ctx)
	case "stop", "off":
		return d.device.StopPlayback(ctx)
	case "next":
		return d.device.NextTrack(ctx)
	case "previous":
		return d.device.PreviousTrack(ctx)
	case "volume_up":
		return d.device.VolumeUp(ctx)
	case "volume_down":
		return d.device.VolumeDown(ctx)
	case "mute_toggle":
		return d.device.ToggleMute(ctx)
	case "on":
		// The device is already on if it answered the poll; nothing to send.
		d.log.Debug().Msg("power on requested, no-op")
		return nil
	case "display_on":
		return d.device.SetDisplayOff(ctx, false)
	case "display_off", "toggle_display":
		// The firmware has no display state query, so toggle defaults off.
		return d.device.SetDisplayOff(ctx, true)
	case "reboot_device":
		return d.device.Reboot(ctx)
	}

	d.log.Warn().Str("command", name).Msg("unhandled command")
	return ErrUnknownCommand
}

func (d *Dispatcher) executeOutput(ctx context.Context, name string) error {
	if name == "get_current" {
		status, err := d.device.GetAudioOutputMode(ctx)
		if err != nil {
			return err
		}
		d.log.Info().
			Str("hardware", status.Hardware).
			Bool("source", status.SourceEnabled()).
			Bool("audiocast", status.AudiocastEnabled()).
			Msg("current audio output")
		return nil
	}

	mode, ok := outputModes[name]
	if !ok {
		d.log.Warn().Str("output", name).Msg("unknown audio output")
		return ErrUnknownCommand
	}
	return d.device.SetAudioOutputMode(ctx, mode)
}

func (d *Dispatcher) executeCombo(ctx context.Context, token Token) error {
	mode := 0
	for _, fragment := range comboOutputOrder {
		if strings.Contains(token.Output, fragment) {
			mode = outputModes[fragment]
			break
		}
	}
	if mode == 0 {
		d.log.Warn().Str("output", token.Output).Msg("unknown combo output")
		return ErrUnknownCommand
	}

	if err := d.device.SwitchSource(ctx, token.Input); err != nil {
		return err
	}
	// Let the input switch settle before changing the output mode.
	d.clock.Sleep(comboSettleDelay)
	return d.device.SetAudioOutputMode(ctx, mode)
}

func (d *Dispatcher) executeService(ctx context.Context, slug string) error {
	for _, preset := range d.presets() {
		if Slug(preset.Source) == slug {
			return d.device.PressPreset(ctx, preset.Number)
		}
	}
	// No preset for that service is a no-op, not an error.
	d.log.Warn().Str("service", slug).Msg("no preset found for service")
	return nil
}

func (d *Dispatcher) executeEQ(ctx context.Context, name string) error {
	switch name {
	case "on":
		return d.device.EQOn(ctx)
	case "off":
		return d.device.EQOff(ctx)
	}
	return d.device.EQLoad(ctx, unslug(name))
}
