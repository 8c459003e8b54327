// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/deskhub/office-relay/internal/wire"
)

// Forwarder relays lifecycle events over a single WebSocket connection to
// the relay endpoint. The connection is dialed lazily and re-dialed after a
// write failure; all writes are serialized behind the mutex because
// gorilla/websocket allows at most one concurrent writer.
type Forwarder struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewForwarder builds a Forwarder targeting the given WebSocket URL. No
// connection is made until the first Send.
func NewForwarder(url string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		url:    url,
		logger: logger,
	}
}

// ensureConn dials the relay endpoint if there is no live connection.
// Callers must hold the mutex.
func (f *Forwarder) ensureConn() error {
	if f.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("dialing relay endpoint: %w", err)
	}
	f.conn = conn
	f.logger.With("url", f.url).Info("connected to relay endpoint")
	return nil
}

// dropConn closes and forgets the current connection so the next Send
// re-dials. Callers must hold the mutex.
func (f *Forwarder) dropConn() {
	if f.conn == nil {
		return
	}
	if err := f.conn.Close(); err != nil {
		f.logger.With(errKey, err).Warn("error closing relay connection")
	}
	f.conn = nil
}

// Send forwards one event as an action envelope. A write failure drops the
// connection and retries once on a fresh dial.
func (f *Forwarder) Send(action string, body json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	envelope := wire.ActionEnvelope{Action: action, Body: body}
	for attempt := 0; attempt < 2; attempt++ {
		if err := f.ensureConn(); err != nil {
			return err
		}
		err := f.conn.WriteJSON(envelope)
		if err == nil {
			return nil
		}
		f.logger.With(errKey, err, "action", action).Warn("relay write failed, reconnecting")
		f.dropConn()
	}
	return fmt.Errorf("forwarding %s: connection lost", action)
}

// Connected reports whether a relay connection is currently open.
func (f *Forwarder) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// Close shuts down any open relay connection.
func (f *Forwarder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropConn()
}
