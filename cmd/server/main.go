package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"wiim_control/internal/entity"
	"wiim_control/internal/mqtt"
	ws "wiim_control/internal/websocket"
	"wiim_control/internal/wiim"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned for command and poll requests arriving before
// any device session exists.
var ErrNotConnected = errors.New("no device connected")

// quietPaths are endpoints that get polled frequently and shouldn't spam logs
var quietPaths = map[string]bool{
	"/api/state":        true,
	"/api/capabilities": true,
}

// ConditionalLogger is a middleware that skips logging for certain paths
func ConditionalLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if quietPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		middleware.Logger(next).ServeHTTP(w, r)
	})
}

type Config struct {
	Port         string
	Host         string // WiiM device host/IP
	PollInterval time.Duration
	// MQTT settings (optional)
	MQTTHost      string
	MQTTPort      int
	MQTTUsername  string
	MQTTPassword  string
	MQTTBaseTopic string
}

// server owns the current device session and the host-facing surfaces.
type server struct {
	cfg      Config
	registry *entity.Registry
	hub      *ws.Hub
	mqtt     *mqtt.Client

	mu      sync.RWMutex
	session *wiim.Session
}

func main() {
	// Load .env file if present (for local dev)
	_ = godotenv.Load()

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		Host:          getEnv("WIIM_HOST", ""),
		PollInterval:  time.Duration(parseIntEnv("POLL_INTERVAL", 5)) * time.Second,
		MQTTHost:      getEnv("MQTT_HOST", ""),
		MQTTPort:      parseIntEnv("MQTT_PORT", 1883),
		MQTTUsername:  getEnv("MQTT_USERNAME", ""),
		MQTTPassword:  getEnv("MQTT_PASSWORD", ""),
		MQTTBaseTopic: getEnv("MQTT_BASE_TOPIC", "wiim"),
	}

	srv := &server{
		cfg:      cfg,
		registry: entity.NewRegistry(),
		hub:      ws.NewHub(),
	}

	go srv.hub.Run()
	log.Info().Msg("WebSocket hub started")

	// Fan registry updates out to the push surfaces
	srv.registry.Subscribe(func(entityID string, state wiim.PlaybackState) {
		srv.hub.BroadcastState(entityID, state)
		if srv.mqtt != nil {
			srv.mqtt.PublishState(entityID, state)
		}
	})

	if cfg.MQTTHost != "" {
		srv.mqtt = mqtt.NewClient(mqtt.Config{
			Host:      cfg.MQTTHost,
			Port:      cfg.MQTTPort,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			ClientID:  "wiim-control",
			BaseTopic: cfg.MQTTBaseTopic,
		})
		srv.mqtt.SetCommandHandler(func(entityID, commandID string) {
			srv.dispatch(context.Background(), commandID)
		})
		go func() {
			if err := srv.mqtt.Connect(); err != nil {
				log.Warn().Err(err).Msg("MQTT connection failed")
			}
		}()
		log.Info().Str("host", cfg.MQTTHost).Int("port", cfg.MQTTPort).Msg("MQTT bridge connecting")
	}

	if cfg.Host != "" {
		if err := srv.connect(context.Background(), cfg.Host); err != nil {
			log.Error().Err(err).Str("host", cfg.Host).Msg("initial device connection failed")
		}
	} else {
		log.Info().Msg("WIIM_HOST not set, waiting for POST /api/connect")
	}

	r := chi.NewRouter()
	r.Use(ConditionalLogger)
	r.Use(middleware.Recoverer)

	r.Post("/api/connect", srv.handleConnect)
	r.Get("/api/state", srv.handleGetState)
	r.Get("/api/capabilities", srv.handleGetCapabilities)
	r.Get("/api/commands", srv.handleGetCommands)
	r.Get("/api/pages", srv.handleGetPages)
	r.Post("/api/command/{commandID}", srv.handleCommand)
	r.Post("/api/poll", srv.handlePoll)
	r.Post("/api/capabilities/refresh", srv.handleRefreshCapabilities)

	r.Get("/ws", srv.hub.ServeWS)

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// connect tears down any existing session and establishes a new one.
func (s *server) connect(ctx context.Context, host string) error {
	session, err := wiim.Connect(ctx, wiim.Config{
		Host:         host,
		PollInterval: s.cfg.PollInterval,
		Sink:         s.registry,
		Logger:       log.Logger,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.session
	s.session = session
	s.mu.Unlock()

	if old != nil {
		old.Close()
		s.registry.Remove(old.EntityID())
	}

	s.hub.BroadcastCapabilities(session.EntityID(), session.Capabilities())
	return nil
}

func (s *server) currentSession() *wiim.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *server) dispatch(ctx context.Context, commandID string) error {
	session := s.currentSession()
	if session == nil {
		return ErrNotConnected
	}
	return session.HandleCommand(ctx, commandID)
}

type connectRequest struct {
	Host string `json:"host"`
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Host) == "" {
		http.Error(w, "host is required", http.StatusBadRequest)
		return
	}

	if err := s.connect(r.Context(), strings.TrimSpace(req.Host)); err != nil {
		log.Error().Err(err).Str("host", req.Host).Msg("connection failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	session := s.currentSession()
	writeJSON(w, map[string]string{
		"entity_id": session.EntityID(),
		"name":      session.DeviceName(),
	})
}

func (s *server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.All())
}

func (s *server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		http.Error(w, "no device connected", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, session.Capabilities())
}

func (s *server) handleGetCommands(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		http.Error(w, "no device connected", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, session.Projection().Commands)
}

func (s *server) handleGetPages(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		http.Error(w, "no device connected", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, session.Projection().Pages)
}

func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "commandID")

	err := s.dispatch(r.Context(), commandID)
	if errors.Is(err, wiim.ErrUnknownCommand) {
		http.Error(w, "unknown command", http.StatusNotImplemented)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handlePoll(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		http.Error(w, "no device connected", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, session.PollOnce(r.Context()))
}

func (s *server) handleRefreshCapabilities(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		http.Error(w, "no device connected", http.StatusServiceUnavailable)
		return
	}
	catalog := session.RefreshCapabilities(r.Context())
	s.hub.BroadcastCapabilities(session.EntityID(), catalog)
	writeJSON(w, catalog)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
