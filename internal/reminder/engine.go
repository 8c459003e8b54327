// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package reminder computes and re-arms the time-delayed triggers that
// notify scheduled-meeting participants ahead of the start time, and
// handles trigger firings.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/deskhub/office-relay/internal/store"
	"github.com/deskhub/office-relay/internal/wire"
)

const errKey = "error"

// Tier identifies how far ahead of the start time a trigger fires.
type Tier string

// Reminder tiers. Firing a tier re-arms the next one down until Now, which
// does not re-arm. MissedMeetingCheck is the deferred post-start email pass
// for participants who never joined.
const (
	Tier30          Tier = "30Minute"
	Tier15          Tier = "15Minute"
	TierNow         Tier = "Now"
	TierMissedCheck Tier = "MissedMeetingCheck"
)

// notificationThresholdMinutes is a debounce margin so a trigger is never
// scheduled in the past when the start time sits right on a tier boundary.
const notificationThresholdMinutes = 1

// missedMeetingDelay is how long after the start the straggler email check
// fires.
const missedMeetingDelay = 2 * time.Minute

// MeetingData is the meeting snapshot carried inside a trigger payload.
// Field names follow the provider's meeting resource so the create-meeting
// response can be passed through unchanged.
type MeetingData struct {
	ID        wire.MeetingID `json:"id"`
	Topic     string         `json:"topic"`
	StartTime string         `json:"start_time"`
	HostEmail string         `json:"host_email"`
}

// Trigger is the opaque payload attached to a scheduled rule and delivered
// back when it fires.
type Trigger struct {
	RuleName         string      `json:"ruleName"`
	Data             MeetingData `json:"data"`
	NotificationType Tier        `json:"notificationType"`
}

// IsValid reports whether the trigger carries enough to act on.
func (t *Trigger) IsValid() bool {
	return t.Data.ID != "" && t.NotificationType != ""
}

// RuleName derives the deterministic trigger name for a meeting and tier.
func RuleName(tier Tier, meetingID wire.MeetingID) string {
	switch tier {
	case Tier30:
		return "30MeetingNotification" + string(meetingID)
	case Tier15:
		return "15MeetingNotification" + string(meetingID)
	case TierMissedCheck:
		return "MissedMeetingCheck" + string(meetingID)
	default:
		return "MeetingNotification" + string(meetingID)
	}
}

// MeetingDirectory is the subset of the record store the engine reads.
type MeetingDirectory interface {
	GetScheduledMeeting(ctx context.Context, meetingID string) (*store.ScheduledMeeting, error)
	GetUser(ctx context.Context, userID string) (*store.User, error)
}

// Notifier pushes an envelope to an already-resolved user record. Routing
// through the resolved-user path keeps stale-connection cleanup working on
// reminder sends.
type Notifier interface {
	NotifyResolved(ctx context.Context, user store.User, env wire.Envelope)
}

// MailSender delivers missed-meeting emails.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Engine owns reminder trigger lifecycle: initial tier selection, firing
// fan-out, and re-arming the next tier.
type Engine struct {
	rules     RuleScheduler
	directory MeetingDirectory
	notifier  Notifier
	mailer    MailSender
	logger    *slog.Logger
	now       func() time.Time
}

// New wires an Engine. now defaults to time.Now when nil.
func New(rules RuleScheduler, directory MeetingDirectory, notifier Notifier, mailer MailSender, logger *slog.Logger) *Engine {
	return &Engine{
		rules:     rules,
		directory: directory,
		notifier:  notifier,
		mailer:    mailer,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the engine's clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ScheduleMeetingNotifications creates exactly one trigger for the meeting
// based on how far away its start time is: a 30-minute reminder when more
// than 31 minutes out, a 15-minute reminder when more than 16, otherwise an
// immediate "Now" trigger at the start time itself.
func (e *Engine) ScheduleMeetingNotifications(ctx context.Context, data MeetingData) error {
	start, err := ParseUTC(data.StartTime)
	if err != nil {
		return fmt.Errorf("parsing meeting start time: %w", err)
	}

	minutesUntil := int(start.Sub(e.now()).Minutes())
	switch {
	case minutesUntil > 30+notificationThresholdMinutes:
		return e.arm(ctx, Tier30, start.Add(-30*time.Minute), data)
	case minutesUntil > 15+notificationThresholdMinutes:
		return e.arm(ctx, Tier15, start.Add(-15*time.Minute), data)
	default:
		return e.arm(ctx, TierNow, start, data)
	}
}

// ScheduleMissedMeetingCheck arms the deferred straggler email check for a
// started meeting. This replaces an in-handler wait so the invocation that
// observed the start returns immediately.
func (e *Engine) ScheduleMissedMeetingCheck(ctx context.Context, data MeetingData) error {
	return e.arm(ctx, TierMissedCheck, e.now().Add(missedMeetingDelay), data)
}

// arm creates the rule for one tier.
func (e *Engine) arm(ctx context.Context, tier Tier, at time.Time, data MeetingData) error {
	name := RuleName(tier, data.ID)
	trig := Trigger{RuleName: name, Data: data, NotificationType: tier}
	if err := e.rules.CreateRule(ctx, name, at, trig); err != nil {
		return fmt.Errorf("arming %s trigger for meeting %s: %w", tier, data.ID, err)
	}
	e.logger.With("rule", name, "tier", string(tier), "fire_at", at.UTC().Format(time.RFC3339)).
		InfoContext(ctx, "armed reminder trigger")
	return nil
}

// OnReminderFired handles a trigger delivery: tears the fired rule down,
// notifies every scheduled participant, and re-arms the next tier. The
// next tier's fire time is computed from the original start time, not from
// now, so delayed deliveries do not drift the schedule.
func (e *Engine) OnReminderFired(ctx context.Context, trig Trigger) error {
	meeting, err := e.directory.GetScheduledMeeting(ctx, string(trig.Data.ID))
	if err != nil {
		return fmt.Errorf("looking up scheduled meeting %s: %w", trig.Data.ID, err)
	}

	e.rules.DeleteRule(ctx, trig.RuleName)

	switch trig.NotificationType {
	case TierNow:
		e.notifyParticipants(ctx, meeting, trig.Data, nil)
		return nil
	case Tier30, Tier15:
		tier := trig.NotificationType
		e.notifyParticipants(ctx, meeting, trig.Data, &tier)
		return e.rearm(ctx, tier, trig.Data)
	case TierMissedCheck:
		return e.emailStragglers(ctx, meeting)
	default:
		return fmt.Errorf("unknown notification type %q", trig.NotificationType)
	}
}

// rearm creates the next tier down after a 30- or 15-minute firing.
func (e *Engine) rearm(ctx context.Context, fired Tier, data MeetingData) error {
	start, err := ParseUTC(data.StartTime)
	if err != nil {
		return fmt.Errorf("parsing meeting start time: %w", err)
	}
	if fired == Tier30 {
		return e.arm(ctx, Tier15, start.Add(-15*time.Minute), data)
	}
	return e.arm(ctx, TierNow, start, data)
}

// notifyParticipants pushes one envelope per scheduled participant: an
// incoming call when tier is nil (the meeting is starting now), otherwise
// a meeting alert carrying the tier. The host flag is set for the
// participant whose provider identity matches the meeting host.
func (e *Engine) notifyParticipants(ctx context.Context, meeting *store.ScheduledMeeting, data MeetingData, tier *Tier) {
	for _, participant := range meeting.Participants {
		user, err := e.directory.GetUser(ctx, participant.UserID)
		if err != nil {
			e.logger.With(errKey, err, "user_id", participant.UserID).
				WarnContext(ctx, "failed to resolve participant for reminder")
			continue
		}

		host := user.ZoomID == data.HostEmail
		var env wire.Envelope
		if tier == nil {
			env = wire.NewIncomingCall(wire.IncomingCall{
				Topic:     data.Topic,
				URL:       meeting.Link,
				Host:      host,
				Scheduled: true,
			})
		} else {
			env = wire.NewMeetingAlert(wire.MeetingAlert{
				Topic: data.Topic,
				URL:   meeting.Link,
				Host:  host,
				Type:  string(*tier),
			})
		}
		e.notifier.NotifyResolved(ctx, *user, env)
	}
}

// emailStragglers mails every scheduled participant who has not joined by
// the time the deferred check fires. Individual failures are logged and do
// not stop the pass.
func (e *Engine) emailStragglers(ctx context.Context, meeting *store.ScheduledMeeting) error {
	if len(meeting.ParticipantsJoined) >= len(meeting.Participants) {
		return nil
	}

	subject := "Missed scheduled meeting: " + meeting.Title
	body := "The scheduled meeting: " + meeting.Title +
		" you were invited to attend started 2 minutes ago. Please check back after the scheduled end-time for a recording."

	for _, participant := range meeting.Participants {
		if slices.Contains(meeting.ParticipantsJoined, participant.UserID) {
			continue
		}
		user, err := e.directory.GetUser(ctx, participant.UserID)
		if err != nil {
			e.logger.With(errKey, err, "user_id", participant.UserID).
				WarnContext(ctx, "failed to resolve straggler for email")
			continue
		}
		if err := e.mailer.Send(ctx, user.ZoomID, subject, body); err != nil {
			e.logger.With(errKey, err, "user_id", participant.UserID).
				WarnContext(ctx, "failed to send missed-meeting email")
		}
	}
	return nil
}
