// Package config defines the gateway's tuning knobs. Defaults match the
// original firmware's compile-time constants; flags and an optional YAML
// file may override them.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects every tunable of the gateway pipeline. AveragingWindow,
// AnomalyZThresh, BatchSize, BatchTimeout, SensorPutTimeout and the
// Security fields are not read by the processor, sensors or security
// transformer, which use their own package constants with the same
// default values; overriding them has no effect.
type Config struct {
	// Sensor topology.
	NumTempSensors     int `yaml:"num_temp_sensors"`
	NumHumiditySensors int `yaml:"num_humidity_sensors"`

	// Processor.
	AveragingWindow  int           `yaml:"averaging_window"`
	AnomalyZThresh   float64       `yaml:"anomaly_z_threshold"`
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	SensorQueueLen   int           `yaml:"sensor_queue_len"`
	NetworkQueueLen  int           `yaml:"network_queue_len"`
	SensorPutTimeout time.Duration `yaml:"sensor_put_timeout"`

	// Security.
	KeyRotationInterval time.Duration `yaml:"key_rotation_interval"`
	MaxEncryptedPayload int           `yaml:"max_encrypted_payload"`
	SecurityPeekPeriod  time.Duration `yaml:"security_peek_period"`
	SecurityReportEvery time.Duration `yaml:"security_report_period"`

	// Network.
	BrokerHost        string        `yaml:"broker_host"`
	BrokerPort        int           `yaml:"broker_port"`
	ClientID          string        `yaml:"client_id"`
	TopicBase         string        `yaml:"topic_base"`
	CACertPath        string        `yaml:"ca_cert_path"`
	TLSVerifyRequired bool          `yaml:"tls_verify_required"`
	Keepalive         time.Duration `yaml:"keepalive"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`

	// Monitor.
	MonitorRefresh time.Duration `yaml:"monitor_refresh"`
	HTTPListenAddr string        `yaml:"http_listen_addr"`
}

// Default returns the original firmware's constant table as a Config.
func Default() Config {
	return Config{
		NumTempSensors:     3,
		NumHumiditySensors: 2,

		AveragingWindow:  5,
		AnomalyZThresh:   3.0,
		BatchSize:        10,
		BatchTimeout:     5 * time.Second,
		SensorQueueLen:   10,
		NetworkQueueLen:  50,
		SensorPutTimeout: 100 * time.Millisecond,

		KeyRotationInterval: time.Hour,
		MaxEncryptedPayload: 512,
		SecurityPeekPeriod:  100 * time.Millisecond,
		SecurityReportEvery: 30 * time.Second,

		BrokerHost:        "test.mosquitto.org",
		BrokerPort:        8883,
		ClientID:          "stick_gateway",
		TopicBase:         "iot/gateway/",
		CACertPath:        "",
		TLSVerifyRequired: false,
		Keepalive:         60 * time.Second,
		ConnectTimeout:    10 * time.Second,

		MonitorRefresh: 2 * time.Second,
		HTTPListenAddr: "127.0.0.1:9090",
	}
}

// LoadYAML merges a YAML override file onto cfg's current values. Missing
// keys keep their existing value (yaml.Unmarshal into the populated
// struct), an additive, non-destructive config layering.
func (c *Config) LoadYAML(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// BindFlags registers command-line flags over cfg's current values
// (defaults, then YAML, then flags: flags win).
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.BrokerHost, "broker-host", c.BrokerHost, "MQTT broker hostname")
	fs.IntVar(&c.BrokerPort, "broker-port", c.BrokerPort, "MQTT broker port")
	fs.StringVar(&c.CACertPath, "ca-cert", c.CACertPath, "path to CA bundle for broker TLS verification")
	fs.BoolVar(&c.TLSVerifyRequired, "tls-verify-required", c.TLSVerifyRequired, "make certificate verification failures fatal instead of advisory")
	fs.IntVar(&c.NumTempSensors, "temp-sensors", c.NumTempSensors, "number of simulated temperature sensors")
	fs.IntVar(&c.NumHumiditySensors, "humidity-sensors", c.NumHumiditySensors, "number of simulated humidity sensors")
	fs.StringVar(&c.HTTPListenAddr, "http-addr", c.HTTPListenAddr, "address for the monitor's HTTP status/metrics endpoint")
}
