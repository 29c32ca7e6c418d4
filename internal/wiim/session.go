package wiim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 5 * time.Second

	// commandRepollDelay is the deferred re-poll after an ordinary command.
	commandRepollDelay = time.Second
	// sourceRepollDelay is the faster re-poll after a source switch, to
	// shorten the stale-metadata window.
	sourceRepollDelay = 500 * time.Millisecond
)

// StateSink receives normalized state pushes keyed by entity id. The host
// entity registry implements this.
type StateSink interface {
	UpdatePlaybackState(entityID string, state PlaybackState)
}

// Config configures one device connection.
type Config struct {
	Host         string
	PollInterval time.Duration
	Sink         StateSink
	Logger       zerolog.Logger
	Clock        Clock
}

// Session is one live connection to a device: it owns the transport, the
// capability catalog, the normalizer, and the single polling flow. All host
// interaction goes through a Session; there is no process-wide state.
type Session struct {
	client     *Client
	normalizer *Normalizer
	dispatcher *Dispatcher
	clock      Clock
	log        zerolog.Logger

	entityID   string
	deviceName string
	sink       StateSink

	catalog    atomic.Pointer[Catalog]
	projection atomic.Pointer[Projection]

	pollInterval time.Duration
	pollMu       sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Connect establishes a session with the device at cfg.Host: it verifies
// connectivity, discovers capabilities, and starts the poll loop. A failed
// connectivity test is the only error surfaced to the caller.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	client := NewClient(cfg.Host, cfg.Logger)

	info, err := client.GetDeviceInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Host, err)
	}

	name := info.DeviceName
	if name == "" {
		name = "WiiM Device"
	}
	entityID := strings.ReplaceAll(info.UUID, "-", "")
	if entityID == "" {
		entityID = uuid.NewString()
	}

	logger := cfg.Logger.With().Str("device", name).Logger()
	logger.Info().Str("entity_id", entityID).Str("host", cfg.Host).Msg("connected to WiiM device")

	s := &Session{
		client:       client,
		clock:        cfg.Clock,
		log:          logger,
		entityID:     entityID,
		deviceName:   name,
		sink:         cfg.Sink,
		pollInterval: cfg.PollInterval,
		done:         make(chan struct{}),
	}
	s.normalizer = NewNormalizer(client, cfg.Clock, logger)
	s.dispatcher = NewDispatcher(client, func() []Preset { return s.Capabilities().Presets }, cfg.Clock, logger)

	catalog := client.DiscoverCapabilities(ctx)
	s.storeCatalog(catalog)

	// The poll loop outlives the connect call; Close tears it down.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()

	return s, nil
}

// EntityID returns the stable identifier for state pushes.
func (s *Session) EntityID() string {
	return s.entityID
}

// DeviceName returns the device's advertised name.
func (s *Session) DeviceName() string {
	return s.deviceName
}

// Capabilities returns the current catalog. The catalog is immutable;
// rediscovery swaps the whole pointer.
func (s *Session) Capabilities() *Catalog {
	return s.catalog.Load()
}

// Projection returns the command vocabulary and page layout derived from
// the current catalog.
func (s *Session) Projection() *Projection {
	return s.projection.Load()
}

// RefreshCapabilities re-probes the device and atomically replaces the
// catalog and its projection.
func (s *Session) RefreshCapabilities(ctx context.Context) *Catalog {
	catalog := s.client.DiscoverCapabilities(ctx)
	s.storeCatalog(catalog)
	return catalog
}

func (s *Session) storeCatalog(catalog *Catalog) {
	projection := Project(catalog)
	s.catalog.Store(catalog)
	s.projection.Store(&projection)
}

// PollOnce runs one fetch-normalize cycle immediately and returns the
// resulting state. Serialized against the periodic loop.
func (s *Session) PollOnce(ctx context.Context) PlaybackState {
	s.pollMu.Lock()
	state := s.normalizer.Poll(ctx)
	s.pollMu.Unlock()

	if s.sink != nil {
		s.sink.UpdatePlaybackState(s.entityID, state)
	}
	return state
}

// HandleCommand parses and dispatches one command, then schedules the
// deferred re-poll. ErrUnknownCommand is the only error the caller should
// act on; transport failures are logged and absorbed here.
func (s *Session) HandleCommand(ctx context.Context, commandID string) error {
	s.log.Info().Str("command", commandID).Msg("handling command")

	token := ParseCommand(commandID)

	if token.SwitchesSource() {
		// The next poll must not show the previous source's track info.
		s.normalizer.RequestClear()
	}

	err := s.dispatcher.Execute(ctx, token)
	if err == ErrUnknownCommand {
		return err
	}
	if err != nil {
		s.log.Error().Err(err).Str("command", commandID).Msg("command failed")
		return nil
	}

	if token.IsDeviceFunction() {
		return nil
	}
	delay := commandRepollDelay
	if token.SwitchesSource() {
		delay = sourceRepollDelay
	}
	s.scheduleRepoll(delay)
	return nil
}

// scheduleRepoll queues a one-shot delayed poll on the session's own
// lifetime; it is dropped on Close.
func (s *Session) scheduleRepoll(delay time.Duration) {
	go func() {
		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(delay):
		}
		s.PollOnce(s.ctx)
	}()
}

// run is the single periodic polling flow: one cycle completes before the
// next ticker wait begins.
func (s *Session) run() {
	defer close(s.done)

	ticker := s.clock.Ticker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.PollOnce(s.ctx)
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("poll loop stopped")
			return
		case <-ticker.Chan():
		}
	}
}

// Close cancels the poll loop and waits for it to exit. In-flight HTTP
// calls finish under their own request timeout.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}
