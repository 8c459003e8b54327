// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package relay is the meeting lifecycle state machine. It ingests
// provider webhook events, reconciles them against the active and
// scheduled meeting tables, derives visibility, and fans the resulting
// state out through the dispatcher.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskhub/office-relay/internal/reminder"
	"github.com/deskhub/office-relay/internal/store"
	"github.com/deskhub/office-relay/internal/wire"
	"github.com/deskhub/office-relay/internal/zoomapi"
)

const errKey = "error"

// EventKind names one inbound lifecycle event.
type EventKind string

// The six lifecycle event kinds. KindConnect is the WebSocket $connect
// route; the rest arrive from the conferencing provider via the hook
// forwarder.
const (
	KindConnect        EventKind = "$connect"
	KindUserJoined     EventKind = "userJoinedMeeting"
	KindUserLeft       EventKind = "userLeftMeeting"
	KindMeetingCreated EventKind = "meetingCreated"
	KindMeetingStarted EventKind = "meetingStarted"
	KindMeetingEnded   EventKind = "meetingEnded"
)

// Event is one inbound lifecycle event. ConnectionID and PrincipalID are
// populated for $connect; Meeting carries the provider payload for the
// webhook kinds.
type Event struct {
	Kind         EventKind
	ConnectionID string
	PrincipalID  string
	Meeting      *wire.MeetingEvent
}

// Records is the record-store surface the relay mutates.
type Records interface {
	GetUserByZoomID(ctx context.Context, zoomID string) (*store.User, error)
	GetUser(ctx context.Context, userID string) (*store.User, error)
	SetUserConnection(ctx context.Context, userID, connectionID string) error
	SetUserLocation(ctx context.Context, userID, meetingID string) error
	AppendScheduledMeeting(ctx context.Context, userID, meetingID string) error

	GetActiveMeeting(ctx context.Context, meetingID string) (*store.ActiveMeeting, error)
	PutActiveMeeting(ctx context.Context, m store.ActiveMeeting) error
	AddMember(ctx context.Context, meetingID, displayName string) error
	RemoveMember(ctx context.Context, meetingID, displayName string) (int, error)
	DeleteActiveMeeting(ctx context.Context, meetingID string) error
	DeleteActiveMeetingIfEmpty(ctx context.Context, meetingID string) error

	GetScheduledMeeting(ctx context.Context, meetingID string) (*store.ScheduledMeeting, error)
	PutScheduledMeeting(ctx context.Context, m store.ScheduledMeeting) error
	AddParticipantJoined(ctx context.Context, meetingID, userID string) error
}

// Conferencing is the provider lookup surface the relay needs.
type Conferencing interface {
	GetMeeting(ctx context.Context, meetingID string) (*zoomapi.Meeting, error)
	GetUser(ctx context.Context, userID string) (*zoomapi.User, error)
}

// Broadcaster pushes active-meeting state to all connected users.
type Broadcaster interface {
	BroadcastActiveMeetings(ctx context.Context) error
}

// Deferrer arms deferred follow-up triggers.
type Deferrer interface {
	ScheduleMissedMeetingCheck(ctx context.Context, data reminder.MeetingData) error
}

// Relay handles lifecycle events. Each invocation is stateless; the record
// store is the only durable state shared across events.
type Relay struct {
	records   Records
	zoom      Conferencing
	broadcast Broadcaster
	deferred  Deferrer
	logger    *slog.Logger
}

// New wires a Relay.
func New(records Records, zoom Conferencing, broadcast Broadcaster, deferred Deferrer, logger *slog.Logger) *Relay {
	return &Relay{records: records, zoom: zoom, broadcast: broadcast, deferred: deferred, logger: logger}
}

// HandleLifecycleEvent dispatches one inbound event. Side effects only;
// callers acknowledge the provider regardless of the returned error.
func (r *Relay) HandleLifecycleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindConnect:
		return r.handleConnect(ctx, ev)
	case KindUserJoined:
		return r.handleUserJoined(ctx, ev)
	case KindUserLeft:
		return r.handleUserLeft(ctx, ev)
	case KindMeetingCreated:
		return r.handleMeetingCreated(ctx, ev)
	case KindMeetingStarted:
		return r.handleMeetingStarted(ctx, ev)
	case KindMeetingEnded:
		return r.handleMeetingEnded(ctx, ev)
	default:
		return fmt.Errorf("unexpected event kind %q", ev.Kind)
	}
}

// handleConnect registers the caller's connection handle against their
// resolved identity. Idempotent: re-connecting overwrites the handle.
func (r *Relay) handleConnect(ctx context.Context, ev Event) error {
	if ev.ConnectionID == "" || ev.PrincipalID == "" {
		return nil
	}
	return r.records.SetUserConnection(ctx, ev.PrincipalID, ev.ConnectionID)
}

// ensureActiveMeeting creates the ActiveMeeting record for a meeting id not
// yet present: meeting details come from the provider, and hostRank is
// snapshotted from the host's user record (0 when the host is unknown).
func (r *Relay) ensureActiveMeeting(ctx context.Context, meetingID string, invitedUsers []string) error {
	_, err := r.records.GetActiveMeeting(ctx, meetingID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	details, err := r.zoom.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("fetching meeting details for %s: %w", meetingID, err)
	}

	hostRank := 0
	host, err := r.records.GetUserByZoomID(ctx, details.HostEmail)
	if err == nil {
		hostRank = host.Rank
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return r.records.PutActiveMeeting(ctx, store.ActiveMeeting{
		MeetingID:    meetingID,
		Topic:        details.Topic,
		URL:          details.JoinURL,
		HostRank:     hostRank,
		InvitedUsers: invitedUsers,
	})
}

// handleUserJoined processes a participant joining a meeting. Lookup
// failures propagate and fail the whole event; there is no all-or-nothing
// commit across the steps.
func (r *Relay) handleUserJoined(ctx context.Context, ev Event) error {
	obj := ev.Meeting.Object
	meetingID := string(obj.ID)

	if err := r.ensureActiveMeeting(ctx, meetingID, nil); err != nil {
		return err
	}

	if obj.Participant == nil {
		return fmt.Errorf("join event for meeting %s has no participant", meetingID)
	}

	if err := r.records.AddMember(ctx, meetingID, obj.Participant.UserName); err != nil {
		return err
	}

	// Resolve the joiner's internal identity from their provider email.
	var joinerID string
	user, err := r.records.GetUserByZoomID(ctx, obj.Participant.Email)
	switch {
	case err == nil:
		joinerID = user.UserID
		if err := r.records.SetUserLocation(ctx, joinerID, meetingID); err != nil {
			return err
		}
	case errors.Is(err, store.ErrNotFound):
		// External participant; nothing to track.
	default:
		return err
	}

	if obj.Type != wire.MeetingInstant && joinerID != "" {
		if _, err := r.records.GetScheduledMeeting(ctx, meetingID); err != nil {
			return fmt.Errorf("looking up scheduled meeting %s: %w", meetingID, err)
		}
		if err := r.records.AddParticipantJoined(ctx, meetingID, joinerID); err != nil {
			return err
		}
	}

	return r.broadcast.BroadcastActiveMeetings(ctx)
}

// handleUserLeft processes a participant leaving. When the member set
// empties the meeting record is deleted. An unknown meeting skips the
// delete/update but still broadcasts.
func (r *Relay) handleUserLeft(ctx context.Context, ev Event) error {
	obj := ev.Meeting.Object
	meetingID := string(obj.ID)

	if obj.Participant == nil {
		return fmt.Errorf("leave event for meeting %s has no participant", meetingID)
	}

	// The provider sometimes omits the email on leave events; fall back to
	// a provider user-details lookup.
	email := obj.Participant.Email
	if email == "" || email == "0" {
		details, err := r.zoom.GetUser(ctx, obj.Participant.ID)
		if err != nil {
			return fmt.Errorf("fetching leaving participant details: %w", err)
		}
		email = details.Email
	}

	user, err := r.records.GetUserByZoomID(ctx, email)
	switch {
	case err == nil:
		if err := r.records.SetUserLocation(ctx, user.UserID, ""); err != nil {
			return err
		}
	case errors.Is(err, store.ErrNotFound):
		// External participant.
	default:
		return err
	}

	_, err = r.records.GetActiveMeeting(ctx, meetingID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.broadcast.BroadcastActiveMeetings(ctx)
	case err != nil:
		return err
	}

	remaining, err := r.records.RemoveMember(ctx, meetingID, obj.Participant.UserName)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := r.records.DeleteActiveMeetingIfEmpty(ctx, meetingID); err != nil {
			return err
		}
	}

	return r.broadcast.BroadcastActiveMeetings(ctx)
}

// handleMeetingCreated persists a ScheduledMeeting for provider-scheduled
// meetings. Skips when the meeting type is not Scheduled, when a record
// with a populated start date already exists, or when the creating host
// cannot be resolved to an internal identity.
func (r *Relay) handleMeetingCreated(ctx context.Context, ev Event) error {
	obj := ev.Meeting.Object
	if obj.Type != wire.MeetingScheduled {
		return nil
	}
	meetingID := string(obj.ID)

	existing, err := r.records.GetScheduledMeeting(ctx, meetingID)
	if err == nil && existing.StartDate != "" {
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	creator, err := r.records.GetUserByZoomID(ctx, ev.Meeting.Operator)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.With("operator", ev.Meeting.Operator, "meeting_id", meetingID).
			InfoContext(ctx, "meeting creator not in user directory, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	startDate, err := reminder.NormalizeToUTC(obj.StartTime, obj.Timezone)
	if err != nil {
		return fmt.Errorf("normalizing start time for %s: %w", meetingID, err)
	}
	start, err := reminder.ParseUTC(startDate)
	if err != nil {
		return err
	}
	endDate := reminder.FormatUTC(start.Add(time.Duration(obj.Duration) * time.Minute))

	if err := r.records.PutScheduledMeeting(ctx, store.ScheduledMeeting{
		MeetingID:    meetingID,
		Link:         obj.JoinURL,
		Title:        obj.Topic,
		StartDate:    startDate,
		EndDate:      endDate,
		Participants: []store.Participant{{UserID: creator.UserID, Name: creator.Name}},
	}); err != nil {
		return err
	}

	return r.records.AppendScheduledMeeting(ctx, creator.UserID, meetingID)
}

// handleMeetingStarted ensures an ActiveMeeting exists, seeding its invited
// set with the scheduled participants other than the host so they can see
// it regardless of rank, then broadcasts and arms the deferred
// missed-meeting check for non-instant meetings.
func (r *Relay) handleMeetingStarted(ctx context.Context, ev Event) error {
	obj := ev.Meeting.Object
	meetingID := string(obj.ID)

	var invited []string
	if obj.Type != wire.MeetingInstant {
		scheduled, err := r.records.GetScheduledMeeting(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("looking up scheduled meeting %s: %w", meetingID, err)
		}
		for _, participant := range scheduled.Participants {
			user, err := r.records.GetUser(ctx, participant.UserID)
			if err != nil {
				return err
			}
			// The host hears about the meeting through the creation flow.
			if user.ZoomID == obj.HostEmail || user.ZoomID == obj.HostID {
				continue
			}
			invited = append(invited, user.UserID)
		}
	}

	if err := r.ensureActiveMeeting(ctx, meetingID, invited); err != nil {
		return err
	}

	if err := r.broadcast.BroadcastActiveMeetings(ctx); err != nil {
		return err
	}

	if obj.Type != wire.MeetingInstant {
		return r.deferred.ScheduleMissedMeetingCheck(ctx, reminder.MeetingData{
			ID:        obj.ID,
			Topic:     obj.Topic,
			StartTime: obj.StartTime,
			HostEmail: obj.HostEmail,
		})
	}
	return nil
}

// handleMeetingEnded removes the meeting unconditionally and broadcasts.
func (r *Relay) handleMeetingEnded(ctx context.Context, ev Event) error {
	if err := r.records.DeleteActiveMeeting(ctx, string(ev.Meeting.Object.ID)); err != nil {
		return err
	}
	return r.broadcast.BroadcastActiveMeetings(ctx)
}
