// Package config loads the daemon's YAML configuration: bus/transceiver
// wiring, DBC files to load, polling engine parameters, capture and
// datastore sinks, following the teacher's flat os.ReadFile + yaml.Unmarshal
// pattern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Buses []BusConfig `yaml:"buses"`

	DBC struct {
		Dir string `yaml:"dir"` // directory of .dbc files, loaded by name
	} `yaml:"dbc"`

	Poller PollerConfig `yaml:"poller"`

	Capture struct {
		Enabled  bool   `yaml:"enabled"`
		Filename string `yaml:"filename"`
	} `yaml:"capture"`

	Datastore struct {
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		InfluxDB struct {
			URL    string `yaml:"url"`
			Org    string `yaml:"org"`
			Bucket string `yaml:"bucket"`
			Token  string `yaml:"token"`
		} `yaml:"influxdb"`
	} `yaml:"datastore"`

	Vehicle struct {
		VIN   string `yaml:"vin"`
		Make  string `yaml:"make"`
		Model string `yaml:"model"`
		Year  int    `yaml:"year"`

		DefaultThresholds struct {
			RPMRedline     float64 `yaml:"rpm_redline"`
			CoolantTempMax float64 `yaml:"coolant_temp_max"`
			EngineLoadMax  float64 `yaml:"engine_load_max"`
		} `yaml:"default_thresholds"`
	} `yaml:"vehicle"`

	LogLevel string `yaml:"log_level"`
}

// BusConfig wires one logical bus index to a transceiver and, optionally, a
// DBC file binding.
type BusConfig struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`

	Transceiver string `yaml:"transceiver"` // "socketcan" or "serial"
	Interface   string `yaml:"interface"`   // e.g. "can0" or "/dev/ttyUSB0"
	BaudRate    int    `yaml:"baud_rate"`   // serial only
	SpeedKbps   int    `yaml:"speed_kbps"`

	DBCFile string `yaml:"dbc_file"` // base name within DBC.Dir, or empty

	AutoPowerOff bool `yaml:"auto_power_off"`
}

// PollerConfig carries the supervisor's global dispatch parameters.
type PollerConfig struct {
	ThrottleMs      int `yaml:"throttle_ms"`
	ResponseSepMs   int `yaml:"response_sep_ms"`
	SuccessSepMs    int `yaml:"success_sep_ms"`
	KeepaliveMs     int `yaml:"keepalive_ms"`
	MaxSequence     int `yaml:"max_sequence"`
	StatsWindowSecs int `yaml:"stats_window_secs"` // 0 disables the rolling statistics window
}

// Load reads the config file and returns a Config struct
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return &c, nil
}
