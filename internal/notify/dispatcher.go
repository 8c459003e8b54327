// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package notify resolves user identities to open connections and pushes
// payload envelopes to them with best-effort delivery.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/deskhub/office-relay/internal/store"
	"github.com/deskhub/office-relay/internal/wire"
)

const errKey = "error"

// Directory is the subset of the record store the dispatcher reads to
// resolve connections and compute broadcasts.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	ListActiveMeetings(ctx context.Context) ([]store.ActiveMeeting, error)
	ClearUserConnection(ctx context.Context, userID string) error
}

// Dispatcher pushes envelopes to connected clients. Delivery is
// best-effort: unreachable targets are logged and dropped, never raised.
type Dispatcher struct {
	transport Transport
	directory Directory
	logger    *slog.Logger
}

// NewDispatcher wires a dispatcher over the given transport and directory.
func NewDispatcher(transport Transport, directory Directory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{transport: transport, directory: directory, logger: logger}
}

// Visible reports whether a user may see an active meeting: the user is
// explicitly invited, or the meeting's host rank snapshot is at or below
// the user's own rank. Evaluated fresh on every broadcast, never cached.
func Visible(m store.ActiveMeeting, u store.User) bool {
	for _, invited := range m.InvitedUsers {
		if invited == u.UserID {
			return true
		}
	}
	return m.HostRank <= u.Rank
}

// NotifyConnection pushes an envelope to a single connection handle.
// Failures are logged; a gone connection is reported via ErrGone handling
// inside NotifyUser, everything else is swallowed.
func (d *Dispatcher) NotifyConnection(ctx context.Context, connectionID string, env wire.Envelope) {
	if connectionID == "" {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		d.logger.With(errKey, err, "kind", env.Kind).ErrorContext(ctx, "failed to marshal payload")
		return
	}
	if err := d.transport.Post(ctx, connectionID, data); err != nil {
		d.logger.With(errKey, err, "connection_id", connectionID, "kind", env.Kind).
			WarnContext(ctx, "failed to post to connection")
	}
}

// NotifyUser resolves the user's stored connection handle and pushes the
// envelope. A gone connection clears the stored handle so later sends skip
// the dead target.
func (d *Dispatcher) NotifyUser(ctx context.Context, userID string, env wire.Envelope) {
	user, err := d.directory.GetUser(ctx, userID)
	if err != nil {
		d.logger.With(errKey, err, "user_id", userID).WarnContext(ctx, "failed to resolve user for notification")
		return
	}
	d.NotifyResolved(ctx, *user, env)
}

// NotifyResolved pushes to an already-loaded user record. Like NotifyUser,
// a gone connection clears the stored handle.
func (d *Dispatcher) NotifyResolved(ctx context.Context, user store.User, env wire.Envelope) {
	if user.ConnectionID == "" {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		d.logger.With(errKey, err, "kind", env.Kind).ErrorContext(ctx, "failed to marshal payload")
		return
	}
	err = d.transport.Post(ctx, user.ConnectionID, data)
	if err == nil {
		return
	}
	if errors.Is(err, ErrGone) {
		d.logger.With("user_id", user.UserID, "connection_id", user.ConnectionID).
			InfoContext(ctx, "stale connection, clearing stored handle")
		if clearErr := d.directory.ClearUserConnection(ctx, user.UserID); clearErr != nil {
			d.logger.With(errKey, clearErr, "user_id", user.UserID).WarnContext(ctx, "failed to clear stale connection")
		}
		return
	}
	d.logger.With(errKey, err, "user_id", user.UserID, "kind", env.Kind).
		WarnContext(ctx, "failed to post to connection")
}

// BroadcastActiveMeetings sends every user their personally-visible subset
// of active meetings as a full replacement list. Sends fan out one
// goroutine per user; no ordering or acknowledgement across users.
func (d *Dispatcher) BroadcastActiveMeetings(ctx context.Context) error {
	users, err := d.directory.ListUsers(ctx)
	if err != nil {
		return err
	}
	meetings, err := d.directory.ListActiveMeetings(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, user := range users {
		if user.ConnectionID == "" {
			continue
		}
		visible := make([]wire.ActiveMeetingSummary, 0, len(meetings))
		for _, m := range meetings {
			if !Visible(m, user) {
				continue
			}
			visible = append(visible, wire.ActiveMeetingSummary{
				ID:      m.MeetingID,
				Topic:   m.Topic,
				URL:     m.URL,
				Members: m.Members,
			})
		}

		wg.Add(1)
		go func(u store.User, env wire.Envelope) {
			defer wg.Done()
			d.NotifyResolved(ctx, u, env)
		}(user, wire.NewActiveMeetings(visible))
	}
	wg.Wait()
	return nil
}
