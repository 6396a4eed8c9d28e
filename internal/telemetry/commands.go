// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/skylink/internal/bus"
	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// StateRequestID is the bus identifier for StateRequest
const StateRequestID uint8 = 0x01

var ErrUnknownCommand = errors.New("unknown command code")

// StateRequest asks the vehicle state machine for a transition
type StateRequest struct {
	Code      int32
	DataID    uint8
	Timestamp uint32
}

// StateHolder is the vehicle state machine
type StateHolder interface {
	SetState(req StateRequest)
}

// RegisterStateRequests registers StateRequest on b. Call it from New's setup.
func RegisterStateRequests(b *bus.Bus) (bus.Topic[StateRequest], error) {
	return bus.Register[StateRequest](b, StateRequestID)
}

// CommandHandler decodes order and ignition payloads and forwards
// recognized commands to the state holder and the bus.
type CommandHandler struct {
	transitions map[uint8]skylink.VehicleState
	holder      StateHolder
	bus         *bus.Bus
	topic       bus.Topic[StateRequest]
	logger      zerolog.Logger

	current atomic.Int32
}

// NewCommandHandler takes ownership of transitions. b may be nil.
func NewCommandHandler(transitions map[uint8]skylink.VehicleState, holder StateHolder, b *bus.Bus, topic bus.Topic[StateRequest], logger zerolog.Logger) *CommandHandler {
	h := &CommandHandler{
		transitions: transitions,
		holder:      holder,
		bus:         b,
		topic:       topic,
		logger:      logger.With().Str("component", "uplink").Logger(),
	}
	h.current.Store(int32(skylink.StateIdle))
	return h
}

// State returns the last state requested by an accepted order
func (h *CommandHandler) State() skylink.VehicleState {
	return skylink.VehicleState(h.current.Load())
}

// HandleOrder maps the order code through the transition table. Unknown
// codes leave the state untouched and return ErrUnknownCommand.
func (h *CommandHandler) HandleOrder(packet []byte) error {
	cmd, err := skylink.DecodeCommand(packet)
	if err != nil {
		observability.RecordUplinkCommand("order", "short")
		return err
	}
	target, ok := h.transitions[cmd.Code]
	if !ok {
		return h.unknown("order", cmd)
	}
	h.current.Store(int32(target))
	return h.forward("order", StateRequest{
		Code:      int32(target),
		DataID:    skylink.DataIDOrder,
		Timestamp: cmd.Timestamp,
	})
}

// HandleIgnition accepts only IgnitionCode
func (h *CommandHandler) HandleIgnition(packet []byte) error {
	cmd, err := skylink.DecodeCommand(packet)
	if err != nil {
		observability.RecordUplinkCommand("ignition", "short")
		return err
	}
	if cmd.Code != skylink.IgnitionCode {
		return h.unknown("ignition", cmd)
	}
	return h.forward("ignition", StateRequest{
		Code:      skylink.IgnitionCode,
		DataID:    skylink.DataIDIgnition,
		Timestamp: cmd.Timestamp,
	})
}

// HandlePacket routes a decoded uplink datagram by type
func (h *CommandHandler) HandlePacket(p *skylink.Packet) error {
	switch p.Type() {
	case skylink.TypeOrder:
		return h.HandleOrder(p.Payload())
	case skylink.TypeIgnition:
		return h.HandleIgnition(p.Payload())
	default:
		return fmt.Errorf("%w: 0x%02X is not an uplink type", skylink.ErrUnknownType, p.Type())
	}
}

func (h *CommandHandler) unknown(kind string, cmd skylink.Command) error {
	h.logger.Warn().
		Str("kind", kind).
		Uint8("code", cmd.Code).
		Uint32("ts", cmd.Timestamp).
		Msg("unknown command code ignored")
	observability.RecordUplinkCommand(kind, "unknown")
	return fmt.Errorf("%w: %s 0x%02X", ErrUnknownCommand, kind, cmd.Code)
}

func (h *CommandHandler) forward(kind string, req StateRequest) error {
	h.holder.SetState(req)
	observability.RecordUplinkCommand(kind, "accepted")
	h.logger.Info().
		Str("kind", kind).
		Int32("code", req.Code).
		Uint8("data_id", req.DataID).
		Uint32("ts", req.Timestamp).
		Msg("state request forwarded")

	if h.bus == nil {
		return nil
	}
	if err := bus.Send(h.bus, h.topic, req); err != nil {
		return fmt.Errorf("publish state request: %w", err)
	}
	return nil
}
