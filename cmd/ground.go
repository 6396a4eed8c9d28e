// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	jujuerrors "github.com/juju/errors"

	"github.com/Thermoquad/skylink/internal/observability"
	"github.com/Thermoquad/skylink/pkg/skylink"
)

// linkEvents receives what decodeLink sees. Nil callbacks are skipped.
type linkEvents struct {
	// Decoder is used when set, so the caller can read Skipped afterwards
	Decoder *skylink.Decoder
	Chunk   func(data []byte)
	Packet  func(p *skylink.Packet)
	Error   func(err error)
}

// linkClosed reports whether err means the other end of the link went away
func linkClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF)
}

// decodeLink reads conn and decodes the byte stream until the link fails.
// A closed link ends the loop with a nil error. Callbacks run on the calling
// goroutine; the chunk passed to Chunk is reused after it returns.
func decodeLink(conn Connection, ev linkEvents) error {
	decoder := ev.Decoder
	if decoder == nil {
		decoder = skylink.NewDecoder()
	}
	onPacket := func(p *skylink.Packet) {
		observability.RecordGroundPacket(skylink.StreamName(p.Type()), "decoded")
		if ev.Packet != nil {
			ev.Packet(p)
		}
	}
	onError := func(err error) {
		observability.RecordGroundPacket("unknown", "error")
		if ev.Error != nil {
			ev.Error(err)
		}
	}

	buf := make([]byte, cfg.Link.ReadBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			observability.RecordLinkBytes("rx", n)
			if ev.Chunk != nil {
				ev.Chunk(buf[:n])
			}
			decoder.Decode(buf[:n], onPacket, onError)
		}
		if err != nil {
			if linkClosed(err) {
				return nil
			}
			return jujuerrors.Annotate(err, "link read")
		}
	}
}

// interrupted returns a channel that fires on Ctrl+C or SIGTERM, and a stop function
func interrupted() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	return sigs, func() { signal.Stop(sigs) }
}
