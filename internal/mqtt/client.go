package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// CommandHandler is called when a command arrives on an entity's command
// topic.
type CommandHandler func(entityID, commandID string)

// Client bridges normalized playback state onto an MQTT broker: state is
// published retained per entity, and commands are accepted on a companion
// topic.
type Client struct {
	client         paho.Client
	baseTopic      string
	commandHandler CommandHandler
	mu             sync.RWMutex
	connected      bool
}

// Config holds MQTT connection settings.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	ClientID  string
	BaseTopic string // defaults to "wiim"
}

// NewClient creates a new MQTT bridge client.
func NewClient(cfg Config) *Client {
	baseTopic := cfg.BaseTopic
	if baseTopic == "" {
		baseTopic = "wiim"
	}
	c := &Client{baseTopic: baseTopic}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Info().Msg("MQTT connected")
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.subscribeToCommands()
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect starts the MQTT connection.
func (c *Client) Connect() error {
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}
	return nil
}

// SetCommandHandler sets the callback for inbound commands.
func (c *Client) SetCommandHandler(handler CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandHandler = handler
}

// PublishState publishes an entity's normalized state, retained so late
// subscribers see the latest snapshot.
func (c *Client) PublishState(entityID string, state any) {
	payload, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal MQTT state payload")
		return
	}
	topic := fmt.Sprintf("%s/%s/state", c.baseTopic, entityID)
	c.client.Publish(topic, 0, true, payload)
}

// subscribeToCommands subscribes to the per-entity command topics.
func (c *Client) subscribeToCommands() {
	topic := c.baseTopic + "/+/command"
	token := c.client.Subscribe(topic, 1, c.handleCommandMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("MQTT subscribe failed")
		return
	}
	log.Info().Str("topic", topic).Msg("subscribed to MQTT command topic")
}

// handleCommandMessage routes one inbound command payload.
func (c *Client) handleCommandMessage(client paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 {
		return
	}
	entityID := parts[len(parts)-2]
	commandID := strings.TrimSpace(string(msg.Payload()))
	if commandID == "" {
		return
	}

	c.mu.RLock()
	handler := c.commandHandler
	c.mu.RUnlock()

	if handler != nil {
		log.Debug().Str("entity_id", entityID).Str("command", commandID).Msg("MQTT command received")
		handler(entityID, commandID)
	}
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect closes the MQTT connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
