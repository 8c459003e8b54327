// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package wire defines the message formats exchanged with clients and the
// conferencing provider: the inbound {action, body} envelope carried over
// the WebSocket API, the provider's webhook payload shapes, and the tagged
// outbound payload union pushed back to connected clients.
package wire

import (
	"encoding/json"
	"fmt"
)

// Meeting types as reported by the conferencing provider.
const (
	MeetingPrescheduled int = iota
	MeetingInstant
	MeetingScheduled
	MeetingRecurring
	MeetingPersonal
	MeetingPAC
	MeetingRecurringFixed
)

// MeetingID is a provider-assigned meeting identifier. The provider emits
// it as a JSON number in webhook payloads and as a string elsewhere, so it
// unmarshals from either and is always handled as a string.
type MeetingID string

// UnmarshalJSON accepts both string and numeric encodings.
func (m *MeetingID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MeetingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("meeting id is neither string nor number: %w", err)
	}
	*m = MeetingID(n.String())
	return nil
}

// ActionEnvelope is the inbound message format on the bidirectional client
// channel: a route/action name plus an action-specific body.
type ActionEnvelope struct {
	Action string          `json:"action"`
	Body   json.RawMessage `json:"body"`
}

// Participant describes the joining or leaving participant in a provider
// webhook payload.
type Participant struct {
	ID       string `json:"id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}

// MeetingObject is the "object" block of a provider lifecycle webhook.
type MeetingObject struct {
	ID          MeetingID    `json:"id"`
	Topic       string       `json:"topic"`
	JoinURL     string       `json:"join_url"`
	StartTime   string       `json:"start_time"`
	Duration    int          `json:"duration"`
	Timezone    string       `json:"timezone"`
	Type        int          `json:"type"`
	HostID      string       `json:"host_id"`
	HostEmail   string       `json:"host_email"`
	Participant *Participant `json:"participant,omitempty"`
}

// MeetingEvent is the webhook payload forwarded into the WebSocket API by
// the hook forwarder. Operator carries the provider identity of the user
// who performed the operation (the host, for meetingCreated).
type MeetingEvent struct {
	Object   MeetingObject `json:"object"`
	Operator string        `json:"operator,omitempty"`
}

// Outbound payload kinds. The legacy protocol dispatched on whichever key
// was present in the envelope; Kind makes the discriminator explicit while
// the per-kind field keeps existing consumers working.
const (
	KindActiveMeetings  = "zoomMeetings"
	KindMeetingResponse = "zoomMeeting"
	KindIncomingCall    = "incomingCall"
	KindMeetingAlert    = "meetingAlert"
	KindConfirmation    = "confirmation"
	KindError           = "error"
)

// ActiveMeetingSummary is one meeting entry in a per-user broadcast list.
type ActiveMeetingSummary struct {
	ID      string   `json:"id"`
	Topic   string   `json:"topic"`
	URL     string   `json:"url"`
	Members []string `json:"members"`
}

// ActiveMeetingsUpdate is a full replacement of the meetings visible to one
// user.
type ActiveMeetingsUpdate struct {
	Meetings []ActiveMeetingSummary `json:"meetings"`
}

// IncomingCall invites a user into a meeting that is starting now.
type IncomingCall struct {
	Topic     string `json:"topic"`
	URL       string `json:"url"`
	Host      bool   `json:"host"`
	Scheduled bool   `json:"scheduled"`
}

// MeetingAlert is an advance reminder for an upcoming scheduled meeting.
// Type is the reminder tier, e.g. "30Minute" or "15Minute".
type MeetingAlert struct {
	Topic string `json:"topic"`
	URL   string `json:"url"`
	Host  bool   `json:"host"`
	Type  string `json:"type"`
}

// Confirmation acknowledges a client action.
type Confirmation struct {
	Message string `json:"Confirmation"`
}

// ErrorMessage reports a failed client action back to its caller.
type ErrorMessage struct {
	Message string `json:"Error"`
}

// Envelope is the tagged union pushed to clients. Exactly one payload field
// is set, matching Kind.
type Envelope struct {
	Kind string `json:"kind"`

	ZoomMeetings *ActiveMeetingsUpdate `json:"zoomMeetings,omitempty"`
	ZoomMeeting  *MeetingObject        `json:"zoomMeeting,omitempty"`
	IncomingCall *IncomingCall         `json:"incomingCall,omitempty"`
	MeetingAlert *MeetingAlert         `json:"meetingAlert,omitempty"`
	Confirmation *Confirmation         `json:"confirmation,omitempty"`
	Error        *ErrorMessage         `json:"error,omitempty"`
}

// NewActiveMeetings wraps a broadcast list.
func NewActiveMeetings(meetings []ActiveMeetingSummary) Envelope {
	return Envelope{Kind: KindActiveMeetings, ZoomMeetings: &ActiveMeetingsUpdate{Meetings: meetings}}
}

// NewMeetingResponse echoes a created meeting back to its caller.
func NewMeetingResponse(m MeetingObject) Envelope {
	return Envelope{Kind: KindMeetingResponse, ZoomMeeting: &m}
}

// NewIncomingCall wraps an incoming call notification.
func NewIncomingCall(call IncomingCall) Envelope {
	return Envelope{Kind: KindIncomingCall, IncomingCall: &call}
}

// NewMeetingAlert wraps a reminder notification.
func NewMeetingAlert(alert MeetingAlert) Envelope {
	return Envelope{Kind: KindMeetingAlert, MeetingAlert: &alert}
}

// NewConfirmation wraps an action acknowledgement.
func NewConfirmation(message string) Envelope {
	return Envelope{Kind: KindConfirmation, Confirmation: &Confirmation{Message: message}}
}

// NewError wraps an action failure.
func NewError(message string) Envelope {
	return Envelope{Kind: KindError, Error: &ErrorMessage{Message: message}}
}
