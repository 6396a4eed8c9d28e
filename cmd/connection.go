// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"go.bug.st/serial"
	"golang.org/x/term"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsDialTimeout      = 15 * time.Second
)

// ErrConnectionClosed is returned by reads after the link went away
var ErrConnectionClosed = errors.New("link closed")

// Connection is the radio link: a serial port, a WebSocket bridge or a null sink
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// serialLink is a radio modem on a serial port
type serialLink struct {
	serial.Port
}

func openSerial(name string, baud int) (Connection, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "open serial port %s", name)
	}
	// Bytes buffered before we attached are a partial datagram at best
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, errors.Annotatef(err, "flush serial port %s", name)
	}
	return &serialLink{Port: port}, nil
}

// wsLink is a ground bridge that carries datagrams in binary WebSocket messages.
// Reads stream across message boundaries; each Write is one message.
type wsLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	msg     io.Reader
	err     error
}

func (w *wsLink) Read(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	for {
		if w.msg == nil {
			kind, r, err := w.conn.NextReader()
			if err != nil {
				w.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
				return 0, w.err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			w.msg = r
		}

		n, err := w.msg.Read(p)
		switch {
		case err == io.EOF:
			w.msg = nil
			if n == 0 {
				continue
			}
		case err != nil:
			w.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			return n, w.err
		}
		return n, nil
	}
}

func (w *wsLink) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, errors.Annotate(err, "websocket write")
	}
	return len(p), nil
}

func (w *wsLink) Close() error {
	return w.conn.Close()
}

func openWebSocket(rawURL, username, password string, insecure bool) (Connection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Annotatef(err, "parse %q", rawURL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.NotValidf("URL scheme %q (use ws:// or wss://)", u.Scheme)
	}
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), basicAuth(username, password))
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "websocket handshake (HTTP %d)", resp.StatusCode)
		}
		return nil, errors.Annotate(err, "websocket dial")
	}
	return &wsLink{conn: conn}, nil
}

func basicAuth(username, password string) http.Header {
	h := http.Header{}
	if username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		h.Set("Authorization", "Basic "+token)
	}
	return h
}

// nullLink swallows writes and blocks reads until closed. It lets the
// onboard side run without a radio attached.
type nullLink struct {
	once   sync.Once
	closed chan struct{}
}

func newNullLink() *nullLink {
	return &nullLink{closed: make(chan struct{})}
}

func (n *nullLink) Read(p []byte) (int, error) {
	<-n.closed
	return 0, io.EOF
}

func (n *nullLink) Write(p []byte) (int, error) {
	select {
	case <-n.closed:
		return 0, io.ErrClosedPipe
	default:
		return len(p), nil
	}
}

func (n *nullLink) Close() error {
	n.once.Do(func() { close(n.closed) })
	return nil
}

// readPassword takes the bridge password from SKYLINK_PASSWORD, or asks for it
func readPassword() (string, error) {
	if pw := os.Getenv("SKYLINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", errors.Annotate(err, "read password")
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Annotate(err, "read password")
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the link selected by the --url or --port flags and
// returns it with a one-line description
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		var password string
		if wsUsername != "" {
			var err error
			if password, err = readPassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := openWebSocket(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, "WebSocket: " + wsURL, nil

	case portName != "":
		conn, err := openSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}
