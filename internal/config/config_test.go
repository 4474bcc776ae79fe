package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load("testdata/config.json")
	require.NoError(t, err)

	assert.Equal(t, []string{"can0", "can1"}, cfg.CANInterfaces)
	assert.Equal(t, "socketcan", cfg.Backend)
	assert.Equal(t, time.Second, cfg.ReceiveTimeout())
	assert.Equal(t, BusMQTT, cfg.Bridge.Bus)
	assert.Equal(t, "localhost", cfg.Bridge.MQTTBroker)
	assert.Equal(t, 1883, cfg.Bridge.MQTTPort)
	assert.Equal(t, byte(1), cfg.Bridge.QoS)
	assert.Equal(t, "canbridge/status", cfg.Bridge.StatusTopic)
	assert.Len(t, cfg.Producer.DataBinding, 4)

	require.NoError(t, cfg.ValidateBridge())
	require.NoError(t, cfg.ValidateProducer())
	require.NoError(t, cfg.ValidatePresenter())
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"vcan0"}, cfg.CANInterfaces)
	assert.Equal(t, "sim", cfg.Backend)
	assert.Equal(t, BusNATS, cfg.Bridge.Bus)
	require.NoError(t, cfg.ValidateBridge())

	table, err := cfg.BindingTable()
	require.NoError(t, err)
	b, err := table.Lookup("speed_sensor2")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18FF0001), b.MessageID)
	assert.True(t, b.Extended)
	assert.Equal(t, 500*time.Millisecond, b.Period)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadDoesNotLog(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf strings.Builder
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	_, err := Load("testdata/config.json")
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, "min.json", `{"can_interfaces":["can0"],"bridge":{"mqtt_broker":"b","mqtt_port":1883,"mqtt_topics":["t/temperature"]}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "socketcan", cfg.Backend)
	assert.Equal(t, 1000, cfg.ReceiveTimeoutMS)
	assert.Equal(t, BusMQTT, cfg.Bridge.Bus)
	assert.Equal(t, byte(1), cfg.Bridge.QoS)
	assert.NoError(t, cfg.ValidateBridge())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeFile(t, "bad.json", `{"can_interfaces": [`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeFile(t, "bad.yaml", "can_interfaces: [a\n  b: {"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func validBridge() Config {
	cfg := Default()
	cfg.CANInterfaces = []string{"can0"}
	cfg.Bridge.MQTTBroker = "localhost"
	cfg.Bridge.MQTTPort = 1883
	cfg.Bridge.MQTTTopics = []string{"telemetry/temperature"}
	return cfg
}

func TestValidateBridge(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"no interfaces", func(c *Config) { c.CANInterfaces = nil }, false},
		{"duplicate interface", func(c *Config) { c.CANInterfaces = []string{"can0", "can0"} }, false},
		{"no broker", func(c *Config) { c.Bridge.MQTTBroker = "" }, false},
		{"no port", func(c *Config) { c.Bridge.MQTTPort = 0 }, false},
		{"no topics", func(c *Config) { c.Bridge.MQTTTopics = nil }, false},
		{"bad qos", func(c *Config) { c.Bridge.QoS = 3 }, false},
		{"unknown bus", func(c *Config) { c.Bridge.Bus = "amqp" }, false},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"nats without broker", func(c *Config) {
			c.Bridge.Bus = BusNATS
			c.Bridge.MQTTBroker = ""
			c.Bridge.MQTTPort = 0
		}, true},
		{"nats without url", func(c *Config) {
			c.Bridge.Bus = BusNATS
			c.Bridge.NATSURL = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBridge()
			tt.mutate(&cfg)
			err := cfg.ValidateBridge()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestValidateProducer(t *testing.T) {
	binding := func(source, iface, id string) DataBinding {
		return DataBinding{Source: source, Destination: Destination{Interface: iface, MsgID: id}}
	}

	tests := []struct {
		name     string
		bindings []DataBinding
		ok       bool
	}{
		{"valid", []DataBinding{binding("speed_sensor1", "can0", "0x200")}, true},
		{"none", nil, false},
		{"unknown source", []DataBinding{binding("pressure_sensor", "can0", "0x200")}, false},
		{"unknown interface", []DataBinding{binding("speed_sensor1", "can9", "0x200")}, false},
		{"bad id", []DataBinding{binding("speed_sensor1", "can0", "zz")}, false},
		{"standard id too large", []DataBinding{binding("speed_sensor1", "can0", "0x800")}, false},
		{"duplicate source", []DataBinding{
			binding("speed_sensor1", "can0", "0x200"),
			binding("speed_sensor1", "can0", "0x201"),
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.CANInterfaces = []string{"can0"}
			cfg.Producer.DataBinding = tt.bindings
			err := cfg.ValidateProducer()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestValidatePresenter(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.ValidatePresenter(), ErrInvalidConfig)

	cfg.Presenter.Broker = "localhost"
	cfg.Presenter.Topics = []string{"telemetry/#"}
	assert.NoError(t, cfg.ValidatePresenter())
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags("can2mqtt", []string{"-c", "a.yaml", "-log-level", "debug", "-backend", "sim"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", f.ConfigFile)

	f2, err := ParseFlags("can2mqtt", []string{"-config", "b.json"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "b.json", f2.ConfigFile)

	cfg := Default()
	f.Apply(&cfg)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sim", cfg.Backend)
	assert.Empty(t, cfg.MetricsAddr)

	_, err = ParseFlags("can2mqtt", []string{"-unknown"}, io.Discard)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf strings.Builder
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "interface", "can0")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "interface=can0")
	assert.Same(t, logger, slog.Default())
}
