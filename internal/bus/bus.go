// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus is the onboard typed message bus.
//
// Types are registered under a one-byte identifier while the bus is being
// built. Once New returns, the bus is locked: the registry is read-only and
// Send and Receive may be called from any goroutine.
//
// Frame format: [identifier:1][little-endian encoding of T:binary.Size(T)]
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/skylink/internal/observability"
)

// MaxPayloadSize is the largest encoded type the bus accepts
const MaxPayloadSize = 256

var (
	ErrTooLarge            = errors.New("bus: type exceeds maximum payload size")
	ErrNotFixedSize        = errors.New("bus: type has no fixed encoded size")
	ErrDuplicateIdentifier = errors.New("bus: identifier already registered")
	ErrInvalidTopic        = errors.New("bus: topic is not registered")
	ErrNotLocked           = errors.New("bus: not locked")
	ErrUnknownIdentifier   = errors.New("bus: unknown identifier")
	ErrLengthMismatch      = errors.New("bus: frame length mismatch")
	ErrDecode              = errors.New("bus: decode failed")
	ErrHandlerPanic        = errors.New("bus: handler panicked")
)

type state uint8

const (
	stateUninitialized state = iota
	stateInitializing
	stateLocked
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

type entry struct {
	typ      reflect.Type
	size     int
	decode   func([]byte) (any, error)
	handlers []func(any) error
}

// Bus dispatches typed values by identifier
type Bus struct {
	w       io.Writer
	writeMu sync.Mutex
	state   state
	entries map[uint8]*entry
	logger  zerolog.Logger
}

type Option func(*Bus)

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// Topic is the handle for one registered type. The zero value is invalid.
type Topic[T any] struct {
	_     [0]T // ties the handle to T so Topic[A] does not convert to Topic[B]
	id    uint8
	size  int
	valid bool
}

func (t Topic[T]) ID() uint8   { return t.id }
func (t Topic[T]) Size() int   { return t.size }
func (t Topic[T]) Valid() bool { return t.valid }

// New builds a bus writing frames to w. setup runs while registration is
// allowed; the bus is locked when it returns. A setup error is returned and
// the bus is discarded.
func New(w io.Writer, setup func(*Bus) error, opts ...Option) (*Bus, error) {
	b := &Bus{
		w:       w,
		entries: make(map[uint8]*entry),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.state = stateInitializing
	if setup != nil {
		if err := setup(b); err != nil {
			return nil, err
		}
	}
	b.state = stateLocked
	b.logger.Info().Int("types", len(b.entries)).Msg("bus locked")
	return b, nil
}

func (b *Bus) mustInitializing(op string) {
	if b.state != stateInitializing {
		panic(fmt.Sprintf("bus: %s while %s", op, b.state))
	}
}

// Register binds T to id. Oversized, variable-size and duplicate
// registrations return an invalid topic and an error. Calling Register
// outside New's setup function panics.
func Register[T any](b *Bus, id uint8) (Topic[T], error) {
	b.mustInitializing("register")

	var zero T
	size := binary.Size(zero)
	var err error
	switch {
	case size < 0:
		err = ErrNotFixedSize
	case size > MaxPayloadSize:
		err = fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	case b.entries[id] != nil:
		err = ErrDuplicateIdentifier
	}
	if err != nil {
		b.logger.Warn().Err(err).Uint8("id", id).Str("type", fmt.Sprintf("%T", zero)).Msg("type rejected")
		return Topic[T]{}, fmt.Errorf("register %T as %d: %w", zero, id, err)
	}

	b.entries[id] = &entry{
		typ:  reflect.TypeFor[T](),
		size: size,
		decode: func(p []byte) (any, error) {
			var v T
			if _, err := binary.Decode(p, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
	return Topic[T]{id: id, size: size, valid: true}, nil
}

// Handle appends h to the handlers for topic. An invalid topic drops the
// handler and returns ErrInvalidTopic. Calling Handle outside New's setup
// function panics.
func Handle[T any](b *Bus, topic Topic[T], h func(T) error) error {
	b.mustInitializing("handle")

	e := lookup(b, topic)
	if e == nil {
		b.logger.Warn().Uint8("id", topic.id).Str("type", reflect.TypeFor[T]().String()).
			Msg("handler dropped for unregistered type")
		return ErrInvalidTopic
	}
	e.handlers = append(e.handlers, func(v any) error {
		return h(v.(T))
	})
	return nil
}

// lookup returns the entry behind topic, or nil unless T is the type
// registered under its identifier. A topic from another bus only resolves
// when this bus registered the same type at the same identifier.
func lookup[T any](b *Bus, topic Topic[T]) *entry {
	e := b.entries[topic.id]
	if !topic.valid || e == nil || e.typ != reflect.TypeFor[T]() || e.size != topic.size {
		return nil
	}
	return e
}

// Send encodes v and writes it as one frame
func Send[T any](b *Bus, topic Topic[T], v T) error {
	if b.state != stateLocked {
		return ErrNotLocked
	}
	if lookup(b, topic) == nil {
		return ErrInvalidTopic
	}

	frame := make([]byte, 1, 1+topic.size)
	frame[0] = topic.id
	frame, err := binary.Append(frame, binary.LittleEndian, v)
	if err != nil {
		return fmt.Errorf("bus: encode frame %d: %w", topic.id, err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.w.Write(frame); err != nil {
		return fmt.Errorf("bus: write frame %d: %w", topic.id, err)
	}
	return nil
}

// Receive dispatches one frame to every handler registered for its
// identifier, in registration order. An empty frame is ignored. Frames with
// an unknown identifier or the wrong length are discarded without invoking
// any handler. Handler errors and panics do not stop dispatch; they are
// joined into the returned error.
func (b *Bus) Receive(frame []byte) error {
	if b.state != stateLocked {
		return ErrNotLocked
	}
	if len(frame) == 0 {
		return nil
	}

	id := frame[0]
	e := b.entries[id]
	if e == nil {
		return b.discard(id, "unknown", ErrUnknownIdentifier)
	}
	payload := frame[1:]
	if len(payload) != e.size {
		return b.discard(id, "length", fmt.Errorf("%w: id %d want %d bytes, got %d",
			ErrLengthMismatch, id, e.size, len(payload)))
	}
	v, err := e.decode(payload)
	if err != nil {
		return b.discard(id, "decode", fmt.Errorf("%w: id %d: %v", ErrDecode, id, err))
	}

	var errs []error
	for i, h := range e.handlers {
		if err := invoke(h, v); err != nil {
			b.logger.Warn().Err(err).Uint8("id", id).Int("handler", i).Msg("handler failed")
			observability.RecordBusHandlerFailure(id)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) discard(id uint8, reason string, err error) error {
	b.logger.Warn().Err(err).Uint8("id", id).Msg("frame discarded")
	observability.RecordBusDiscard(reason)
	return err
}

func invoke(h func(any) error, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(v)
}
