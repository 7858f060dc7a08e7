// Package mqtt publishes bridge state to an MQTT broker and accepts
// commands on a request topic.
package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"

	"github.com/shaunagostinho/dashbridge/internal/bridge"
)

// Config holds the broker connection and topic layout.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Broker         string        `yaml:"broker" json:"broker"` // e.g. "tcp://localhost:1883"
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"-"`
	ClientID       string        `yaml:"client_id" json:"clientId"` // generated when empty
	DataTopic      string        `yaml:"data_topic" json:"dataTopic"`
	CommandTopic   string        `yaml:"command_topic" json:"commandTopic"`
	QoS            byte          `yaml:"qos" json:"qos"`
	KeepAlive      int           `yaml:"keep_alive" json:"keepAlive"` // seconds
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connectTimeout"`
	PublishEvery   int           `yaml:"publish_every" json:"publishEvery"` // publish one state in N
}

// DefaultConfig returns a disabled client pointed at a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		DataTopic:      "dashbridge/telemetry",
		CommandTopic:   "dashbridge/command",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		PublishEvery:   1,
	}
}

func generateClientID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return "dashbridge-" + hex.EncodeToString(b)
}

// Bridge is the part of the runner the client needs.
type Bridge interface {
	Subscribe(buf int) (<-chan *bridge.State, func())
	Do(ctx context.Context, cmd bridge.Command) (bridge.Reply, error)
}

// Response is published on <command_topic>/response for every request.
type Response struct {
	CorrelationID string       `json:"correlation_id"`
	Status        string       `json:"status"` // "success" or "error"
	Result        bridge.Reply `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Client connects the bridge to a broker.
type Client struct {
	cfg    Config
	br     Bridge
	client mqttLib.Client
	ctx    context.Context

	mu sync.Mutex
}

// New returns an unconnected client.
func New(cfg Config, br Bridge) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = generateClientID()
	}
	if cfg.PublishEvery < 1 {
		cfg.PublishEvery = 1
	}
	return &Client{cfg: cfg, br: br, ctx: context.Background()}
}

func (c *Client) Name() string { return "MQTT " + c.cfg.Broker }

func (c *Client) statusTopic() string   { return c.cfg.DataTopic + "/status" }
func (c *Client) stateTopic() string    { return c.cfg.DataTopic + "/state" }
func (c *Client) requestTopic() string  { return c.cfg.CommandTopic + "/request" }
func (c *Client) responseTopic() string { return c.cfg.CommandTopic + "/response" }

// Connect dials the broker. The broker marks the bridge offline through
// the will message if the connection drops.
func (c *Client) Connect() error {
	opts := mqttLib.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetKeepAlive(time.Duration(c.cfg.KeepAlive) * time.Second)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetWill(c.statusTopic(), "offline", c.cfg.QoS, true)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqttLib.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	})

	client := mqttLib.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect %s: %w", c.cfg.Broker, token.Error())
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil && client.IsConnected() {
		client.Publish(c.statusTopic(), c.cfg.QoS, true, "offline").WaitTimeout(time.Second)
		client.Disconnect(1000)
	}
	return nil
}

// onConnect runs on every (re)connect, so subscriptions survive broker
// restarts.
func (c *Client) onConnect(client mqttLib.Client) {
	log.Printf("[mqtt] connected to %s", c.cfg.Broker)
	client.Publish(c.statusTopic(), c.cfg.QoS, true, "online")
	if token := client.Subscribe(c.requestTopic(), c.cfg.QoS, c.onRequest); token.Wait() && token.Error() != nil {
		log.Printf("[mqtt] subscribe %s: %v", c.requestTopic(), token.Error())
		return
	}
	log.Printf("[mqtt] listening for commands on %s", c.requestTopic())
}

func (c *Client) onRequest(_ mqttLib.Client, msg mqttLib.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	go func() {
		resp := c.handle(payload)
		if err := c.publishJSON(c.responseTopic(), false, resp); err != nil {
			log.Printf("[mqtt] response %s: %v", resp.CorrelationID, err)
		}
	}()
}

// handle runs one request against the bridge.
func (c *Client) handle(payload []byte) Response {
	cmd, id, err := decodeRequest(payload)
	resp := Response{CorrelationID: id, Status: "success", Timestamp: time.Now()}
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	c.mu.Lock()
	base := c.ctx
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, 10*time.Second)
	defer cancel()
	reply, err := c.br.Do(ctx, cmd)
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}
	delete(reply, "id")
	resp.Result = reply
	return resp
}

// Run publishes bridge states until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	states, cancel := c.br.Subscribe(8)
	defer cancel()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			n++
			if n%c.cfg.PublishEvery != 0 {
				continue
			}
			if err := c.publishJSON(c.stateTopic(), false, st); err != nil && n%100 == 1 {
				log.Printf("[mqtt] publish state: %v", err)
			}
		}
	}
}

func (c *Client) publishJSON(topic string, retain bool, v any) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("mqtt: not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt: marshal: %w", err)
	}
	token := client.Publish(topic, c.cfg.QoS, retain, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt: publish %s timed out", topic)
	}
	return token.Error()
}

// decodeRequest accepts any command line form understood by the bridge
// and also a correlation_id field next to the command.
func decodeRequest(payload []byte) (bridge.Command, string, error) {
	var meta struct {
		CorrelationID string `json:"correlation_id"`
		ID            string `json:"id"`
	}
	_ = json.Unmarshal(payload, &meta)
	id := meta.CorrelationID
	if id == "" {
		id = meta.ID
	}

	cmd, err := bridge.ParseCommand(string(payload))
	if err != nil {
		return bridge.Command{}, id, err
	}
	cmd.ID = id
	return cmd, id, nil
}

