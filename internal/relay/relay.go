// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package relay republishes decoded ground traffic on MQTT and turns MQTT
// messages back into uplink datagrams.
package relay

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/skylink/internal/config"
	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// UplinkTopic is the topic suffix carrying commands for the vehicle
const UplinkTopic = "uplink"

// Client is the part of mqtt.Client the relay uses
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Message is the JSON document published for every datagram
type Message struct {
	Type       string        `json:"type"`
	ReceivedAt time.Time     `json:"received_at"`
	CRC        uint16        `json:"crc"`
	Frame      skylink.Frame `json:"frame"`
	Anomalies  []string      `json:"anomalies,omitempty"`
}

// MarshalJSON writes the frame with the default struct layout, except that
// NaN and infinite readings become null. Those are the readings the
// anomalies list reports, so the document must still go out.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		plain
		Frame any `json:"frame"`
	}{plain(m), jsonValue(reflect.ValueOf(m.Frame))})
}

var marshalerType = reflect.TypeFor[json.Marshaler]()

func jsonValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return jsonValue(v.Elem())
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case reflect.Struct:
		if v.Type().Implements(marshalerType) {
			break
		}
		doc := make(map[string]any, v.NumField())
		addFields(doc, v)
		return doc
	}
	return v.Interface()
}

// addFields flattens embedded structs the way encoding/json does
func addFields(doc map[string]any, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			addFields(doc, v.Field(i))
			continue
		}
		doc[f.Name] = jsonValue(v.Field(i))
	}
}

// Relay publishes packets to <prefix>/<stream>
type Relay struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger

	published atomic.Uint64
	uplinkSeq atomic.Uint32
	start     time.Time
}

func New(client Client, cfg config.MQTT, logger zerolog.Logger) *Relay {
	return &Relay{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "relay").Logger(),
		start:   time.Now(),
	}
}

// Topic returns the full topic for a suffix
func (r *Relay) Topic(suffix string) string {
	if r.prefix == "" {
		return suffix
	}
	return r.prefix + "/" + suffix
}

// Published returns the number of packets published
func (r *Relay) Published() uint64 {
	return r.published.Load()
}

// NewMessage builds the JSON document for a packet
func NewMessage(p *skylink.Packet) (Message, error) {
	frame, err := p.Frame()
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		Type:       skylink.StreamName(p.Type()),
		ReceivedAt: p.Timestamp(),
		CRC:        p.CRC(),
		Frame:      frame,
	}
	for _, v := range skylink.ValidatePacket(p) {
		msg.Anomalies = append(msg.Anomalies, v.Message)
	}
	return msg, nil
}

// Publish encodes a packet and waits for the broker to accept it
func (r *Relay) Publish(p *skylink.Packet) error {
	stream := skylink.StreamName(p.Type())
	msg, err := NewMessage(p)
	if err != nil {
		observability.RecordGroundPacket(stream, "error")
		return errors.Annotatef(err, "relay %s", stream)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		observability.RecordGroundPacket(stream, "error")
		return errors.Annotatef(err, "relay %s", stream)
	}

	if err := r.wait(r.client.Publish(r.Topic(stream), r.qos, false, payload)); err != nil {
		observability.RecordGroundPacket(stream, "error")
		return errors.Annotatef(err, "publish %s", r.Topic(stream))
	}
	observability.RecordGroundPacket(stream, "published")
	r.published.Add(1)
	return nil
}

// SubscribeUplink forwards commands published on <prefix>/uplink to send.
// Invalid commands are logged and dropped.
func (r *Relay) SubscribeUplink(send func(*skylink.Datagram) error) error {
	topic := r.Topic(UplinkTopic)
	tok := r.client.Subscribe(topic, r.qos, func(c mqtt.Client, m mqtt.Message) {
		text := string(m.Payload())
		ts := uint32(time.Since(r.start).Milliseconds())
		d, err := ParseCommand(text, ts, r.uplinkSeq.Add(1)-1)
		if err != nil {
			r.logger.Warn().Err(err).Str("payload", text).Msg("uplink command rejected")
			observability.RecordUplinkCommand("mqtt", "rejected")
			return
		}
		defer d.Release()
		if err := send(d); err != nil {
			r.logger.Error().Err(err).Str("command", text).Msg("uplink send failed")
			observability.RecordUplinkCommand("mqtt", "error")
			return
		}
		r.logger.Info().Str("command", text).Msg("uplink command sent")
		observability.RecordUplinkCommand("mqtt", "sent")
	})
	return errors.Annotatef(r.wait(tok), "subscribe %s", topic)
}

func (r *Relay) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(r.timeout) {
		return errors.Timeoutf("mqtt after %v", r.timeout)
	}
	return tok.Error()
}

// ParseCommand turns a command text into an uplink datagram.
// Accepted forms: "ignite", a vehicle state name, or "raw:<code>".
func ParseCommand(text string, ts, packetNumber uint32) (*skylink.Datagram, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "ignite":
		return skylink.NewIgnitionDatagram(ts, packetNumber), nil
	case strings.HasPrefix(text, "raw:"):
		code, err := strconv.ParseUint(strings.TrimPrefix(text, "raw:"), 0, 8)
		if err != nil {
			return nil, errors.NotValidf("raw code %q", text)
		}
		return skylink.NewRawCommandDatagram(skylink.TypeOrder, ts, packetNumber, uint8(code)), nil
	}
	state, err := skylink.ParseVehicleState(text)
	if err != nil {
		return nil, errors.NewNotValid(err, "command")
	}
	return skylink.NewOrderDatagram(ts, packetNumber, state), nil
}
