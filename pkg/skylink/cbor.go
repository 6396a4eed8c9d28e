// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package skylink

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one entry of a CBOR flight record: a received datagram and its arrival time
type Record struct {
	ReceivedAt int64  `cbor:"0,keyasint"` // unix nanoseconds
	Type       uint8  `cbor:"1,keyasint"`
	Payload    []byte `cbor:"2,keyasint"`
	CRC        uint16 `cbor:"3,keyasint"`
}

// Packet rebuilds the packet stored in a record
func (r Record) Packet() *Packet {
	p := NewPacket(r.Type, r.Payload, r.CRC)
	p.timestamp = time.Unix(0, r.ReceivedAt)
	return p
}

// RecordWriter appends packets to a flight record as a sequence of CBOR items
type RecordWriter struct {
	enc   *cbor.Encoder
	count int
}

// NewRecordWriter creates a writer that streams records to w
func NewRecordWriter(w io.Writer) (*RecordWriter, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return &RecordWriter{enc: em.NewEncoder(w)}, nil
}

// Write appends one packet to the record
func (rw *RecordWriter) Write(p *Packet) error {
	rec := Record{
		ReceivedAt: p.Timestamp().UnixNano(),
		Type:       p.Type(),
		Payload:    p.Payload(),
		CRC:        p.CRC(),
	}
	if err := rw.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	rw.count++
	return nil
}

// Count returns the number of records written
func (rw *RecordWriter) Count() int {
	return rw.count
}

// ReadRecords reads every record from a flight record stream
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	records := []Record{}
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
