// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the skylink TOML configuration.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"

	"github.com/Thermoquad/skylink/pkg/skylink"
)

// Telemetry holds the minimum send interval per stream.
type Telemetry struct {
	AttitudeInterval  uint32
	GPSInterval       uint32
	MotorInterval     uint32
	WarningInterval   uint32
	AirbrakesInterval uint32
	EnqueueTimeout    time.Duration
}

type Slab struct {
	Size  int
	Count int
}

type Link struct {
	QueueDepth int
	ReadBuffer int
}

// Uplink maps a received order code to the vehicle state it requests.
type Uplink struct {
	Transitions map[uint8]skylink.VehicleState
}

type MQTT struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

type Metrics struct {
	Addr string
}

type Config struct {
	Telemetry Telemetry
	Slab      Slab
	Link      Link
	Uplink    Uplink
	MQTT      MQTT
	Metrics   Metrics
}

// DefaultTransitions is the order table flown on the vehicle.
func DefaultTransitions() map[uint8]skylink.VehicleState {
	return map[uint8]skylink.VehicleState{
		uint8(skylink.StateOpenFillValve):  skylink.StateOpenFillValve,
		uint8(skylink.StateCloseFillValve): skylink.StateOpenPurgeValve,
		uint8(skylink.StateDisconnectHose): skylink.StateDisconnectHose,
	}
}

func Default() Config {
	return Config{
		Telemetry: Telemetry{
			AttitudeInterval:  20,
			GPSInterval:       100,
			MotorInterval:     100,
			WarningInterval:   50,
			AirbrakesInterval: 100,
			EnqueueTimeout:    10 * time.Millisecond,
		},
		Slab: Slab{
			Size:  skylink.DefaultSlabSize,
			Count: 32,
		},
		Link: Link{
			QueueDepth: 16,
			ReadBuffer: 256,
		},
		Uplink: Uplink{
			Transitions: DefaultTransitions(),
		},
		MQTT: MQTT{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "skylink-relay",
			TopicPrefix: "skylink",
			QoS:         0,
			Timeout:     5 * time.Second,
		},
	}
}

type fileConfig struct {
	Telemetry struct {
		AttitudeIntervalMS  uint32 `toml:"attitude_interval_ms"`
		GPSIntervalMS       uint32 `toml:"gps_interval_ms"`
		MotorIntervalMS     uint32 `toml:"motor_interval_ms"`
		WarningIntervalMS   uint32 `toml:"warning_interval_ms"`
		AirbrakesIntervalMS uint32 `toml:"airbrakes_interval_ms"`
		EnqueueTimeout      string `toml:"enqueue_timeout"`
	} `toml:"telemetry"`
	Slab struct {
		Size  int `toml:"size"`
		Count int `toml:"count"`
	} `toml:"slab"`
	Link struct {
		QueueDepth int `toml:"queue_depth"`
		ReadBuffer int `toml:"read_buffer"`
	} `toml:"link"`
	Uplink struct {
		Transitions map[string]uint8 `toml:"transitions"`
	} `toml:"uplink"`
	MQTT struct {
		Broker      string `toml:"broker"`
		ClientID    string `toml:"client_id"`
		TopicPrefix string `toml:"topic_prefix"`
		QoS         uint8  `toml:"qos"`
		Timeout     string `toml:"timeout"`
	} `toml:"mqtt"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads path over the defaults. Only keys present in the file override.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Annotatef(err, "load config %s", path)
	}

	if meta.IsDefined("telemetry", "attitude_interval_ms") {
		cfg.Telemetry.AttitudeInterval = raw.Telemetry.AttitudeIntervalMS
	}
	if meta.IsDefined("telemetry", "gps_interval_ms") {
		cfg.Telemetry.GPSInterval = raw.Telemetry.GPSIntervalMS
	}
	if meta.IsDefined("telemetry", "motor_interval_ms") {
		cfg.Telemetry.MotorInterval = raw.Telemetry.MotorIntervalMS
	}
	if meta.IsDefined("telemetry", "warning_interval_ms") {
		cfg.Telemetry.WarningInterval = raw.Telemetry.WarningIntervalMS
	}
	if meta.IsDefined("telemetry", "airbrakes_interval_ms") {
		cfg.Telemetry.AirbrakesInterval = raw.Telemetry.AirbrakesIntervalMS
	}
	if meta.IsDefined("telemetry", "enqueue_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Telemetry.EnqueueTimeout))
		if err != nil {
			return Config{}, errors.Annotate(err, "parse telemetry.enqueue_timeout")
		}
		cfg.Telemetry.EnqueueTimeout = d
	}

	if meta.IsDefined("slab", "size") {
		cfg.Slab.Size = raw.Slab.Size
	}
	if meta.IsDefined("slab", "count") {
		cfg.Slab.Count = raw.Slab.Count
	}

	if meta.IsDefined("link", "queue_depth") {
		cfg.Link.QueueDepth = raw.Link.QueueDepth
	}
	if meta.IsDefined("link", "read_buffer") {
		cfg.Link.ReadBuffer = raw.Link.ReadBuffer
	}

	if meta.IsDefined("uplink", "transitions") {
		table, err := parseTransitions(raw.Uplink.Transitions)
		if err != nil {
			return Config{}, err
		}
		cfg.Uplink.Transitions = table
	}

	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "client_id") {
		cfg.MQTT.ClientID = strings.TrimSpace(raw.MQTT.ClientID)
	}
	if meta.IsDefined("mqtt", "topic_prefix") {
		cfg.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(raw.MQTT.TopicPrefix), "/")
	}
	if meta.IsDefined("mqtt", "qos") {
		cfg.MQTT.QoS = raw.MQTT.QoS
	}
	if meta.IsDefined("mqtt", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MQTT.Timeout))
		if err != nil {
			return Config{}, errors.Annotate(err, "parse mqtt.timeout")
		}
		cfg.MQTT.Timeout = d
	}

	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Keys are order codes, either decimal or state names like "close-fill-valve".
func parseTransitions(in map[string]uint8) (map[uint8]skylink.VehicleState, error) {
	out := make(map[uint8]skylink.VehicleState, len(in))
	for key, target := range in {
		key = strings.TrimSpace(key)
		var code uint8
		if n, err := strconv.ParseUint(key, 0, 8); err == nil {
			code = uint8(n)
		} else if state, perr := skylink.ParseVehicleState(key); perr == nil {
			code = uint8(state)
		} else {
			return nil, errors.NotValidf("uplink transition key %q", key)
		}
		if !skylink.VehicleState(target).Valid() {
			return nil, errors.NotValidf("uplink transition target %d for %q", target, key)
		}
		out[code] = skylink.VehicleState(target)
	}
	return out, nil
}

func (c Config) Validate() error {
	intervals := []struct {
		name  string
		value uint32
	}{
		{"attitude_interval_ms", c.Telemetry.AttitudeInterval},
		{"gps_interval_ms", c.Telemetry.GPSInterval},
		{"motor_interval_ms", c.Telemetry.MotorInterval},
		{"warning_interval_ms", c.Telemetry.WarningInterval},
		{"airbrakes_interval_ms", c.Telemetry.AirbrakesInterval},
	}
	for _, iv := range intervals {
		if iv.value == 0 {
			return errors.NotValidf("telemetry.%s 0", iv.name)
		}
	}
	if c.Telemetry.EnqueueTimeout < 0 {
		return errors.NotValidf("telemetry.enqueue_timeout %s", c.Telemetry.EnqueueTimeout)
	}
	if c.Slab.Size < skylink.MaxDatagramSize {
		return errors.NotValidf("slab.size %d below largest datagram %d", c.Slab.Size, skylink.MaxDatagramSize)
	}
	if c.Link.QueueDepth < 1 {
		return errors.NotValidf("link.queue_depth %d", c.Link.QueueDepth)
	}
	if c.Link.ReadBuffer < 1 {
		return errors.NotValidf("link.read_buffer %d", c.Link.ReadBuffer)
	}
	if c.MQTT.QoS > 2 {
		return errors.NotValidf("mqtt.qos %d", c.MQTT.QoS)
	}
	if c.MQTT.Timeout <= 0 {
		return errors.NotValidf("mqtt.timeout %s", c.MQTT.Timeout)
	}
	return nil
}
