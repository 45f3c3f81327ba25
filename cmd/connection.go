// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/escstat/pkg/escsensor"
)

// Connection provides a common interface for reading/writing telemetry bytes
// from serial, WebSocket or CAN
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// telemetryRequester is implemented by links that can trigger a KISS
// telemetry frame from one ESC
type telemetryRequester interface {
	RequestTelemetry(motor int) error
}

// SerialConnection is a local serial link to the ESC telemetry wire
type SerialConnection struct {
	serial.Port
}

// OpenSerialConnection opens portName as 8N1 at baudRate
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialConnection{Port: port}, nil
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// bridgeRequest is the text message asking a WebSocket bridge to trigger
// one ESC's telemetry line
type bridgeRequest struct {
	RequestTelemetry int `json:"request_telemetry"`
}

// WebSocketConnection reads the ESC byte stream relayed by a remote bridge.
// Binary messages carry link bytes. Text messages are bridge control and
// are ignored on read.
type WebSocketConnection struct {
	conn *websocket.Conn

	// current binary message, nil between messages
	msg io.Reader
	err error

	writeMu sync.Mutex
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for w.err == nil {
		if w.msg == nil {
			messageType, r, err := w.conn.NextReader()
			if err != nil {
				w.err = err
				break
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			w.msg = r
		}

		n, err := w.msg.Read(p)
		if err == io.EOF {
			w.msg = nil
		} else if err != nil {
			w.err = err
		}
		if n > 0 {
			return n, nil
		}
	}

	if websocket.IsCloseError(w.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return 0, ErrConnectionClosed
	}
	return 0, w.err
}

// Write forwards raw bytes to the bridge's ESC link
func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// RequestTelemetry asks the bridge to pulse motor's telemetry request
func (w *WebSocketConnection) RequestTelemetry(motor int) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(bridgeRequest{RequestTelemetry: motor})
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// basicAuth returns the request headers for an optional HTTP Basic login
func basicAuth(username, password string) http.Header {
	headers := http.Header{}
	if username == "" || password == "" {
		return headers
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	headers.Set("Authorization", "Basic "+credentials)
	return headers
}

// OpenWebSocketConnection dials a telemetry bridge at wsURL
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, basicAuth(username, password))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword returns $ESCSTAT_PASSWORD, or prompts on stderr. Input is
// hidden when stdin is a terminal.
func GetPassword() (string, error) {
	if pw := os.Getenv("ESCSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// linkBaudRate returns the --baud value, or the protocol's own link speed
func linkBaudRate(protocol escsensor.Protocol) int {
	if baudRate != 0 {
		return baudRate
	}
	if rate := protocol.BaudRate(); rate != 0 {
		return rate
	}
	return escsensor.KissBaudRate
}

// OpenConnection opens a serial, WebSocket or CAN connection based on flags
func OpenConnection(protocol escsensor.Protocol) (Connection, string, error) {
	if wsURL != "" {
		// WebSocket mode
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if canInterface != "" {
		conn, err := OpenCANConnection(canInterface, canID)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("CAN: %s (node %d)", canInterface, canID), nil
	}

	if portName != "" {
		// Serial mode
		baud := linkBaudRate(protocol)
		conn, err := OpenSerialConnection(portName, baud)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baud), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --can must be specified")
}
