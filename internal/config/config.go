package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/farouk15160/canmqtt-bridge/internal/routing"
)

// ErrInvalidConfig wraps every decoding and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Bus kinds accepted by Bridge.Bus.
const (
	BusMQTT = "mqtt"
	BusNATS = "nats"
)

// Destination is where a producer source writes its frames.
type Destination struct {
	Interface string `json:"interface" yaml:"interface"`
	MsgID     string `json:"msg_id" yaml:"msg_id"`
	Extended  bool   `json:"extended" yaml:"extended"`
}

// DataBinding binds one emulated sensor to a CAN destination.
type DataBinding struct {
	Source      string      `json:"source" yaml:"source"`
	Destination Destination `json:"destination" yaml:"destination"`
	PeriodMS    int         `json:"period_ms" yaml:"period_ms"`
}

// Bridge configures the CAN to bus direction.
type Bridge struct {
	Bus         string   `json:"bus" yaml:"bus"`
	MQTTBroker  string   `json:"mqtt_broker" yaml:"mqtt_broker"`
	MQTTPort    int      `json:"mqtt_port" yaml:"mqtt_port"`
	Username    string   `json:"username" yaml:"username"`
	Password    string   `json:"password" yaml:"password"`
	ClientID    string   `json:"client_id" yaml:"client_id"`
	QoS         byte     `json:"qos" yaml:"qos"`
	StatusTopic string   `json:"status_topic" yaml:"status_topic"`
	NATSURL     string   `json:"nats_url" yaml:"nats_url"`
	MQTTTopics  []string `json:"mqtt_topics" yaml:"mqtt_topics"`
}

// Producer configures the emulated sensors.
type Producer struct {
	DataBinding []DataBinding `json:"data_binding" yaml:"data_binding"`
}

// Presenter configures the topic listener.
type Presenter struct {
	Bus      string   `json:"bus" yaml:"bus"`
	Broker   string   `json:"broker" yaml:"broker"`
	Port     int      `json:"port" yaml:"port"`
	NATSURL  string   `json:"nats_url" yaml:"nats_url"`
	ClientID string   `json:"client_id" yaml:"client_id"`
	Topics   []string `json:"topics" yaml:"topics"`
	LogFile  string   `json:"log_file" yaml:"log_file"`
}

// Config is the shared configuration file of all commands.
type Config struct {
	CANInterfaces    []string  `json:"can_interfaces" yaml:"can_interfaces"`
	Backend          string    `json:"backend" yaml:"backend"`
	ReceiveTimeoutMS int       `json:"receive_timeout_ms" yaml:"receive_timeout_ms"`
	FD               bool      `json:"fd" yaml:"fd"`
	LogLevel         string    `json:"log_level" yaml:"log_level"`
	MetricsAddr      string    `json:"metrics_addr" yaml:"metrics_addr"`
	Bridge           Bridge    `json:"bridge" yaml:"bridge"`
	Producer         Producer  `json:"producer" yaml:"producer"`
	Presenter        Presenter `json:"presenter" yaml:"presenter"`
}

// Default returns the values used for keys missing from the file.
func Default() Config {
	return Config{
		Backend:          "socketcan",
		ReceiveTimeoutMS: 1000,
		LogLevel:         "info",
		Bridge: Bridge{
			Bus:     BusMQTT,
			QoS:     1,
			NATSURL: "nats://localhost:4222",
		},
		Presenter: Presenter{
			Bus:     BusMQTT,
			Port:    1883,
			NATSURL: "nats://localhost:4222",
		},
	}
}

// Load reads the file at path. Files ending in .yaml or .yml are parsed as
// YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode '%s': %w", ErrInvalidConfig, path, err)
	}
	return &cfg, nil
}

// ReceiveTimeout returns the bounded wait of every ingestion loop.
func (c *Config) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMS) * time.Millisecond
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	return ParseLevel(c.LogLevel)
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return l, nil
}

func (c *Config) validateCommon() error {
	if len(c.CANInterfaces) == 0 {
		return invalid("can_interfaces is required")
	}
	seen := make(map[string]bool, len(c.CANInterfaces))
	for _, iface := range c.CANInterfaces {
		if strings.TrimSpace(iface) == "" {
			return invalid("can_interfaces contains an empty name")
		}
		if seen[iface] {
			return invalid("can_interfaces lists %q twice", iface)
		}
		seen[iface] = true
	}
	if c.ReceiveTimeoutMS <= 0 {
		return invalid("receive_timeout_ms must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// ValidateBridge checks the keys the bridge needs.
func (c *Config) ValidateBridge() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	b := c.Bridge
	switch b.Bus {
	case BusMQTT:
		if b.MQTTBroker == "" {
			return invalid("bridge.mqtt_broker is required")
		}
		if b.MQTTPort <= 0 || b.MQTTPort > 65535 {
			return invalid("bridge.mqtt_port must be between 1 and 65535")
		}
	case BusNATS:
		if b.NATSURL == "" {
			return invalid("bridge.nats_url is required")
		}
	default:
		return invalid("bridge.bus %q is not one of %s, %s", b.Bus, BusMQTT, BusNATS)
	}
	if b.QoS > 2 {
		return invalid("bridge.qos must be 0, 1 or 2")
	}
	if len(b.MQTTTopics) == 0 {
		return invalid("bridge.mqtt_topics is required")
	}
	return nil
}

// ValidateProducer checks the keys the producer needs, including every binding.
func (c *Config) ValidateProducer() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if len(c.Producer.DataBinding) == 0 {
		return invalid("producer.data_binding is required")
	}
	_, err := c.BindingTable()
	return err
}

// ValidatePresenter checks the keys the presenter needs.
func (c *Config) ValidatePresenter() error {
	p := c.Presenter
	switch p.Bus {
	case BusMQTT:
		if p.Broker == "" {
			return invalid("presenter.broker is required")
		}
		if p.Port <= 0 || p.Port > 65535 {
			return invalid("presenter.port must be between 1 and 65535")
		}
	case BusNATS:
		if p.NATSURL == "" {
			return invalid("presenter.nats_url is required")
		}
	default:
		return invalid("presenter.bus %q is not one of %s, %s", p.Bus, BusMQTT, BusNATS)
	}
	if len(p.Topics) == 0 {
		return invalid("presenter.topics is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Bindings converts the configured data bindings.
func (c *Config) Bindings() ([]routing.Binding, error) {
	out := make([]routing.Binding, 0, len(c.Producer.DataBinding))
	for i, db := range c.Producer.DataBinding {
		id, err := routing.ParseMessageID(db.Destination.MsgID)
		if err != nil {
			return nil, invalid("producer.data_binding[%d]: %v", i, err)
		}
		if db.PeriodMS < 0 {
			return nil, invalid("producer.data_binding[%d]: period_ms must not be negative", i)
		}
		out = append(out, routing.Binding{
			Source:    db.Source,
			Interface: db.Destination.Interface,
			MessageID: id,
			Extended:  db.Destination.Extended,
			Period:    time.Duration(db.PeriodMS) * time.Millisecond,
		})
	}
	return out, nil
}

// BindingTable converts and validates the data bindings against can_interfaces.
func (c *Config) BindingTable() (*routing.BindingTable, error) {
	bindings, err := c.Bindings()
	if err != nil {
		return nil, err
	}
	table, err := routing.NewBindingTable(bindings, c.CANInterfaces)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return table, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
