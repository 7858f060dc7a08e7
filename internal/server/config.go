package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/dashbridge/internal/charge"
	"github.com/shaunagostinho/dashbridge/internal/charger"
	"github.com/shaunagostinho/dashbridge/internal/hostlink"
	"github.com/shaunagostinho/dashbridge/internal/logger"
	"github.com/shaunagostinho/dashbridge/internal/mqtt"
	"github.com/shaunagostinho/dashbridge/internal/rs485"
)

// EnvPrefix prefixes every environment override, e.g.
// DASHBRIDGE_CAN_INTERFACE=can1 or DASHBRIDGE_LIMITS_FULL_AMPS=25.
const EnvPrefix = "DASHBRIDGE"

// Config holds all bridge configuration.
type Config struct {
	mu sync.RWMutex

	// Buses
	CAN     CANConfig     `yaml:"can" json:"can"`
	Charger ChargerConfig `yaml:"charger" json:"charger"`

	// Poll loop and charge policy
	Bridge BridgeConfig  `yaml:"bridge" json:"bridge"`
	Limits charge.Limits `yaml:"limits" json:"limits"`

	// Outputs
	MQTT     mqtt.Config     `yaml:"mqtt" json:"mqtt"`
	HostLink hostlink.Config `yaml:"hostlink" json:"hostlink"`
	Logging  logger.Config   `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type CANConfig struct {
	Type           string `yaml:"type" json:"type"`           // "socketcan" or "demo"
	Interface      string `yaml:"interface" json:"interface"` // e.g. can0
	QueryTimeoutMs int    `yaml:"query_timeout_ms" json:"queryTimeoutMs"`
	ScanWindowMs   int    `yaml:"scan_window_ms" json:"scanWindowMs"`
	ClearWindowMs  int    `yaml:"clear_window_ms" json:"clearWindowMs"`
	MaxCodes       int    `yaml:"max_codes" json:"maxCodes"`
}

type ChargerConfig struct {
	Type      string           `yaml:"type" json:"type"` // "serial", "rtu" or "demo"
	Port      rs485.PortConfig `yaml:"port" json:"port"`
	Unit      int              `yaml:"unit" json:"unit"`
	TimeoutMs int              `yaml:"timeout_ms" json:"timeoutMs"`
	Debug     bool             `yaml:"debug" json:"debug"` // log raw RTU frames
}

type BridgeConfig struct {
	IntervalMs  int  `yaml:"interval_ms" json:"intervalMs"`
	ScanOnStart bool `yaml:"scan_on_start" json:"scanOnStart"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	Metrics    bool   `yaml:"metrics" json:"metrics"` // serve /metrics
}

// Modbus RTU unicast addresses.
const (
	minUnit = 1
	maxUnit = 247
)

// validUnit replaces a charger address outside the unicast range with the
// default, so it can never wrap to another device on the bus.
func (c *ChargerConfig) validUnit() {
	if c.Unit < minUnit || c.Unit > maxUnit {
		log.Printf("[config] charger unit %d out of range %d..%d, using %d",
			c.Unit, minUnit, maxUnit, charger.DefaultUnit)
		c.Unit = int(charger.DefaultUnit)
	}
}

// QueryTimeout is the per-PID response window.
func (c CANConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// Timeout is the register reply window.
func (c ChargerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Interval is the poll period.
func (c BridgeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CAN: CANConfig{
			Type:           "demo",
			Interface:      "can0",
			QueryTimeoutMs: 200,
			ScanWindowMs:   1000,
			ClearWindowMs:  2000,
			MaxCodes:       32,
		},
		Charger: ChargerConfig{
			Type: "demo",
			Port: rs485.PortConfig{
				PortPath: "/dev/ttyRS485",
				BaudRate: 9600,
				Parity:   "N",
				StopBits: 1,
			},
			Unit:      1,
			TimeoutMs: 200,
		},
		Bridge: BridgeConfig{
			IntervalMs:  500,
			ScanOnStart: true,
		},
		Limits: charge.DefaultLimits(),
		MQTT:   mqtt.DefaultConfig(),
		HostLink: hostlink.Config{
			Enabled:  false,
			PortPath: "/dev/ttyHost",
			BaudRate: 115200,
		},
		Logging: logger.Config{
			Enabled:     false,
			Path:        "/var/log/dashbridge",
			IntervalMs:  1000,
			RowsPerFile: 100_000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			Metrics:    true,
		},
	}
}

// LoadConfig reads config from a YAML file layered over the defaults, then
// applies .env and DASHBRIDGE_* environment overrides. Falls back to
// defaults if the YAML is missing or broken.
func LoadConfig(path string) *Config {
	// Load .env file from the same directory as the config, or from CWD
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg := DefaultConfig()
	cfg.path = path

	v := viper.New()
	v.SetConfigType("yaml")
	seed, err := yaml.Marshal(cfg)
	if err == nil {
		err = v.ReadConfig(bytes.NewReader(seed))
	}
	if err != nil {
		log.Printf("[config] seeding defaults: %v", err)
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		v = viper.New()
		v.SetConfigType("yaml")
		v.ReadConfig(bytes.NewReader(seed))
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Every key is known from the seed, so each one can be overridden.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		log.Printf("[config] applying overrides: %v, using defaults", err)
		cfg = DefaultConfig()
		cfg.path = path
	}
	cfg.Charger.validUnit()
	return cfg
}

// loadEnvFile sets variables from a KEY=VALUE .env file. Variables already
// present in the real environment take precedence.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	if err := gotenv.Load(path); err != nil {
		log.Printf("[config] .env %s: %v", path, err)
	}
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = "/etc/dashbridge/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// ChargeLimits returns the current charge policy.
func (c *Config) ChargeLimits() charge.Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Limits
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port paths, baud rates, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]any
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	if err := json.Unmarshal(merged, c); err != nil {
		return err
	}
	c.Charger.validUnit()
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]any) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
