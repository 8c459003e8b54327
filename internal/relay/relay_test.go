// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/deskhub/office-relay/internal/reminder"
	"github.com/deskhub/office-relay/internal/store"
	"github.com/deskhub/office-relay/internal/wire"
	"github.com/deskhub/office-relay/internal/zoomapi"
)

// fakeRecords is an in-memory Records implementation with set semantics
// matching the persistent store.
type fakeRecords struct {
	users     map[string]*store.User
	active    map[string]*store.ActiveMeeting
	scheduled map[string]*store.ScheduledMeeting

	connections map[string]string
	locations   map[string]string
	appended    map[string][]string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		users:       map[string]*store.User{},
		active:      map[string]*store.ActiveMeeting{},
		scheduled:   map[string]*store.ScheduledMeeting{},
		connections: map[string]string{},
		locations:   map[string]string{},
		appended:    map[string][]string{},
	}
}

func (f *fakeRecords) addUser(u store.User) {
	f.users[u.UserID] = &u
}

func (f *fakeRecords) GetUser(_ context.Context, userID string) (*store.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeRecords) GetUserByZoomID(_ context.Context, zoomID string) (*store.User, error) {
	for _, u := range f.users {
		if u.ZoomID == zoomID {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRecords) SetUserConnection(_ context.Context, userID, connectionID string) error {
	f.connections[userID] = connectionID
	return nil
}

func (f *fakeRecords) SetUserLocation(_ context.Context, userID, meetingID string) error {
	f.locations[userID] = meetingID
	return nil
}

func (f *fakeRecords) AppendScheduledMeeting(_ context.Context, userID, meetingID string) error {
	f.appended[userID] = append(f.appended[userID], meetingID)
	return nil
}

func (f *fakeRecords) GetActiveMeeting(_ context.Context, meetingID string) (*store.ActiveMeeting, error) {
	m, ok := f.active[meetingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeRecords) PutActiveMeeting(_ context.Context, m store.ActiveMeeting) error {
	f.active[m.MeetingID] = &m
	return nil
}

func (f *fakeRecords) AddMember(_ context.Context, meetingID, displayName string) error {
	m, ok := f.active[meetingID]
	if !ok {
		return errors.New("no such meeting")
	}
	if !slices.Contains(m.Members, displayName) {
		m.Members = append(m.Members, displayName)
	}
	return nil
}

func (f *fakeRecords) RemoveMember(_ context.Context, meetingID, displayName string) (int, error) {
	m, ok := f.active[meetingID]
	if !ok {
		return 0, errors.New("no such meeting")
	}
	m.Members = slices.DeleteFunc(m.Members, func(s string) bool { return s == displayName })
	return len(m.Members), nil
}

func (f *fakeRecords) DeleteActiveMeeting(_ context.Context, meetingID string) error {
	delete(f.active, meetingID)
	return nil
}

func (f *fakeRecords) DeleteActiveMeetingIfEmpty(_ context.Context, meetingID string) error {
	if m, ok := f.active[meetingID]; ok && len(m.Members) == 0 {
		delete(f.active, meetingID)
	}
	return nil
}

func (f *fakeRecords) GetScheduledMeeting(_ context.Context, meetingID string) (*store.ScheduledMeeting, error) {
	m, ok := f.scheduled[meetingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeRecords) PutScheduledMeeting(_ context.Context, m store.ScheduledMeeting) error {
	f.scheduled[m.MeetingID] = &m
	return nil
}

func (f *fakeRecords) AddParticipantJoined(_ context.Context, meetingID, userID string) error {
	m, ok := f.scheduled[meetingID]
	if !ok {
		return errors.New("no such scheduled meeting")
	}
	if !slices.Contains(m.ParticipantsJoined, userID) {
		m.ParticipantsJoined = append(m.ParticipantsJoined, userID)
	}
	return nil
}

type fakeConferencing struct {
	meetings map[string]*zoomapi.Meeting
	users    map[string]*zoomapi.User
}

func (f *fakeConferencing) GetMeeting(_ context.Context, meetingID string) (*zoomapi.Meeting, error) {
	m, ok := f.meetings[meetingID]
	if !ok {
		return nil, errors.New("meeting not found upstream")
	}
	return m, nil
}

func (f *fakeConferencing) GetUser(_ context.Context, userID string) (*zoomapi.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user not found upstream")
	}
	return u, nil
}

type fakeBroadcaster struct {
	calls int
}

func (f *fakeBroadcaster) BroadcastActiveMeetings(_ context.Context) error {
	f.calls++
	return nil
}

type fakeDeferrer struct {
	scheduled []reminder.MeetingData
}

func (f *fakeDeferrer) ScheduleMissedMeetingCheck(_ context.Context, data reminder.MeetingData) error {
	f.scheduled = append(f.scheduled, data)
	return nil
}

type fixture struct {
	records   *fakeRecords
	zoom      *fakeConferencing
	broadcast *fakeBroadcaster
	deferred  *fakeDeferrer
	relay     *Relay
}

func newFixture() *fixture {
	records := newFakeRecords()
	zoom := &fakeConferencing{
		meetings: map[string]*zoomapi.Meeting{},
		users:    map[string]*zoomapi.User{},
	}
	broadcast := &fakeBroadcaster{}
	deferred := &fakeDeferrer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		records:   records,
		zoom:      zoom,
		broadcast: broadcast,
		deferred:  deferred,
		relay:     New(records, zoom, broadcast, deferred, logger),
	}
}

func joinEvent(meetingID string, meetingType int, name, email string) Event {
	return Event{
		Kind: KindUserJoined,
		Meeting: &wire.MeetingEvent{Object: wire.MeetingObject{
			ID:          wire.MeetingID(meetingID),
			Type:        meetingType,
			Participant: &wire.Participant{ID: "p-" + name, UserName: name, Email: email},
		}},
	}
}

func leaveEvent(meetingID string, name, email string) Event {
	return Event{
		Kind: KindUserLeft,
		Meeting: &wire.MeetingEvent{Object: wire.MeetingObject{
			ID:          wire.MeetingID(meetingID),
			Participant: &wire.Participant{ID: "p-" + name, UserName: name, Email: email},
		}},
	}
}

func TestHandleConnect(t *testing.T) {
	f := newFixture()
	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind:         KindConnect,
		ConnectionID: "conn-9",
		PrincipalID:  "u-1",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if f.records.connections["u-1"] != "conn-9" {
		t.Errorf("connection not stored: %v", f.records.connections)
	}

	// Missing identity is a no-op, not an error.
	if err := f.relay.HandleLifecycleEvent(context.Background(), Event{Kind: KindConnect, ConnectionID: "conn-9"}); err != nil {
		t.Errorf("anonymous connect: %v", err)
	}
}

func TestUserJoinedCreatesActiveMeeting(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["500"] = &zoomapi.Meeting{
		Topic:     "Warzone",
		JoinURL:   "https://zoom.example/j/500",
		HostEmail: "hana@example.com",
	}
	f.records.addUser(store.User{UserID: "u-hana", ZoomID: "hana@example.com", Rank: 3})
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com", Rank: 1})

	err := f.relay.HandleLifecycleEvent(context.Background(), joinEvent("500", wire.MeetingInstant, "Ada", "ada@example.com"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	m := f.records.active["500"]
	if m == nil {
		t.Fatal("active meeting not created")
	}
	if m.Topic != "Warzone" || m.URL != "https://zoom.example/j/500" {
		t.Errorf("meeting details not snapshotted: %+v", m)
	}
	if m.HostRank != 3 {
		t.Errorf("got host rank %d, want 3", m.HostRank)
	}
	if !slices.Contains(m.Members, "Ada") {
		t.Errorf("joiner not in member set: %v", m.Members)
	}
	if f.records.locations["u-ada"] != "500" {
		t.Errorf("joiner location not set: %v", f.records.locations)
	}
	if f.broadcast.calls != 1 {
		t.Errorf("got %d broadcasts, want 1", f.broadcast.calls)
	}
}

func TestUserJoinedUnknownHostDefaultsRankZero(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["501"] = &zoomapi.Meeting{Topic: "T", HostEmail: "outsider@example.com"}

	err := f.relay.HandleLifecycleEvent(context.Background(), joinEvent("501", wire.MeetingInstant, "Guest", "guest@example.com"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := f.records.active["501"].HostRank; got != 0 {
		t.Errorf("got host rank %d, want 0", got)
	}
}

func TestUserJoinedIdempotentMembership(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["502"] = &zoomapi.Meeting{Topic: "T"}

	ev := joinEvent("502", wire.MeetingInstant, "Ada", "ada@example.com")
	for i := 0; i < 2; i++ {
		if err := f.relay.HandleLifecycleEvent(context.Background(), ev); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if got := f.records.active["502"].Members; len(got) != 1 {
		t.Errorf("duplicate join inflated member set: %v", got)
	}
}

func TestUserJoinedScheduledMeetingTracksAttendance(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["503"] = &zoomapi.Meeting{Topic: "Planning"}
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com"})
	f.records.scheduled["503"] = &store.ScheduledMeeting{
		MeetingID:    "503",
		Participants: []store.Participant{{UserID: "u-ada", Name: "Ada"}},
	}

	err := f.relay.HandleLifecycleEvent(context.Background(), joinEvent("503", wire.MeetingScheduled, "Ada", "ada@example.com"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got := f.records.scheduled["503"].ParticipantsJoined; !slices.Contains(got, "u-ada") {
		t.Errorf("attendance not recorded: %v", got)
	}
}

func TestUserJoinedScheduledMeetingWithoutRecordFails(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["504"] = &zoomapi.Meeting{Topic: "T"}
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com"})

	err := f.relay.HandleLifecycleEvent(context.Background(), joinEvent("504", wire.MeetingScheduled, "Ada", "ada@example.com"))
	if err == nil {
		t.Error("expected error for untracked scheduled meeting")
	}
}

func TestUserLeftRemovesMemberAndDeletesEmptyMeeting(t *testing.T) {
	f := newFixture()
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com"})
	f.records.active["600"] = &store.ActiveMeeting{MeetingID: "600", Members: []string{"Ada", "Ben"}}

	err := f.relay.HandleLifecycleEvent(context.Background(), leaveEvent("600", "Ada", "ada@example.com"))
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if m := f.records.active["600"]; m == nil || slices.Contains(m.Members, "Ada") {
		t.Errorf("member not removed: %+v", m)
	}
	if f.records.locations["u-ada"] != "" {
		t.Errorf("leaver location not cleared: %v", f.records.locations)
	}

	// Last member out deletes the meeting.
	if err := f.relay.HandleLifecycleEvent(context.Background(), leaveEvent("600", "Ben", "ben@example.com")); err != nil {
		t.Fatalf("final leave: %v", err)
	}
	if _, ok := f.records.active["600"]; ok {
		t.Error("empty meeting not deleted")
	}
	if f.broadcast.calls != 2 {
		t.Errorf("got %d broadcasts, want 2", f.broadcast.calls)
	}
}

func TestUserLeftMissingEmailFallsBackToLookup(t *testing.T) {
	f := newFixture()
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com"})
	f.records.active["601"] = &store.ActiveMeeting{MeetingID: "601", Members: []string{"Ada"}}
	f.zoom.users["p-Ada"] = &zoomapi.User{ID: "p-Ada", Email: "ada@example.com"}

	err := f.relay.HandleLifecycleEvent(context.Background(), leaveEvent("601", "Ada", ""))
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if f.records.locations["u-ada"] != "" {
		t.Errorf("location not cleared via fallback lookup")
	}
}

func TestUserLeftUnknownMeetingStillBroadcasts(t *testing.T) {
	f := newFixture()
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com"})

	err := f.relay.HandleLifecycleEvent(context.Background(), leaveEvent("999", "Ada", "ada@example.com"))
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if f.broadcast.calls != 1 {
		t.Errorf("got %d broadcasts, want 1", f.broadcast.calls)
	}
}

func TestMeetingCreatedPersistsSchedule(t *testing.T) {
	f := newFixture()
	f.records.addUser(store.User{UserID: "u-hana", Name: "Hana", ZoomID: "hana@example.com"})

	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind: KindMeetingCreated,
		Meeting: &wire.MeetingEvent{
			Operator: "hana@example.com",
			Object: wire.MeetingObject{
				ID:        "700",
				Topic:     "Quarterly review",
				JoinURL:   "https://zoom.example/j/700",
				StartTime: "2026-05-01T15:00:00Z",
				Duration:  45,
				Timezone:  "UTC",
				Type:      wire.MeetingScheduled,
			},
		},
	})
	if err != nil {
		t.Fatalf("meetingCreated: %v", err)
	}

	m := f.records.scheduled["700"]
	if m == nil {
		t.Fatal("scheduled meeting not persisted")
	}
	if m.StartDate != "2026-05-01T15:00:00Z" || m.EndDate != "2026-05-01T15:45:00Z" {
		t.Errorf("got window %s..%s", m.StartDate, m.EndDate)
	}
	if len(m.Participants) != 1 || m.Participants[0].UserID != "u-hana" {
		t.Errorf("creator not the sole participant: %+v", m.Participants)
	}
	if got := f.records.appended["u-hana"]; !slices.Contains(got, "700") {
		t.Errorf("meeting not linked to creator: %v", got)
	}
}

func TestMeetingCreatedSkipsNonScheduledTypes(t *testing.T) {
	f := newFixture()
	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind: KindMeetingCreated,
		Meeting: &wire.MeetingEvent{Object: wire.MeetingObject{
			ID: "701", Type: wire.MeetingInstant,
		}},
	})
	if err != nil {
		t.Fatalf("meetingCreated: %v", err)
	}
	if len(f.records.scheduled) != 0 {
		t.Errorf("instant meeting persisted: %v", f.records.scheduled)
	}
}

func TestMeetingCreatedSkipsUnknownOperator(t *testing.T) {
	f := newFixture()
	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind: KindMeetingCreated,
		Meeting: &wire.MeetingEvent{
			Operator: "outsider@example.com",
			Object: wire.MeetingObject{
				ID: "702", Type: wire.MeetingScheduled, StartTime: "2026-05-01T15:00:00Z",
			},
		},
	})
	if err != nil {
		t.Fatalf("meetingCreated: %v", err)
	}
	if len(f.records.scheduled) != 0 {
		t.Errorf("meeting persisted for unknown operator: %v", f.records.scheduled)
	}
}

func TestMeetingCreatedSkipsAlreadyPopulatedRecord(t *testing.T) {
	f := newFixture()
	f.records.addUser(store.User{UserID: "u-hana", ZoomID: "hana@example.com"})
	f.records.scheduled["703"] = &store.ScheduledMeeting{
		MeetingID: "703",
		Title:     "Original title",
		StartDate: "2026-05-01T10:00:00Z",
	}

	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind: KindMeetingCreated,
		Meeting: &wire.MeetingEvent{
			Operator: "hana@example.com",
			Object: wire.MeetingObject{
				ID: "703", Topic: "Duplicate", Type: wire.MeetingScheduled, StartTime: "2026-05-01T15:00:00Z",
			},
		},
	})
	if err != nil {
		t.Fatalf("meetingCreated: %v", err)
	}
	if f.records.scheduled["703"].Title != "Original title" {
		t.Error("populated record was overwritten")
	}
}

func TestMeetingStartedSeedsInvitedAndArmsMissedCheck(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["800"] = &zoomapi.Meeting{Topic: "Review", HostEmail: "hana@example.com"}
	f.records.addUser(store.User{UserID: "u-hana", ZoomID: "hana@example.com", Rank: 4})
	f.records.addUser(store.User{UserID: "u-ada", ZoomID: "ada@example.com", Rank: 1})
	f.records.scheduled["800"] = &store.ScheduledMeeting{
		MeetingID: "800",
		Participants: []store.Participant{
			{UserID: "u-hana", Name: "Hana"},
			{UserID: "u-ada", Name: "Ada"},
		},
	}

	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind: KindMeetingStarted,
		Meeting: &wire.MeetingEvent{Object: wire.MeetingObject{
			ID:        "800",
			Topic:     "Review",
			StartTime: "2026-05-01T15:00:00Z",
			Type:      wire.MeetingScheduled,
			HostEmail: "hana@example.com",
		}},
	})
	if err != nil {
		t.Fatalf("meetingStarted: %v", err)
	}

	m := f.records.active["800"]
	if m == nil {
		t.Fatal("active meeting not created")
	}
	if slices.Contains(m.InvitedUsers, "u-hana") {
		t.Errorf("host in invited set: %v", m.InvitedUsers)
	}
	if !slices.Contains(m.InvitedUsers, "u-ada") {
		t.Errorf("participant missing from invited set: %v", m.InvitedUsers)
	}
	if len(f.deferred.scheduled) != 1 || f.deferred.scheduled[0].ID != "800" {
		t.Errorf("missed-meeting check not armed: %v", f.deferred.scheduled)
	}
	if f.broadcast.calls != 1 {
		t.Errorf("got %d broadcasts, want 1", f.broadcast.calls)
	}
}

func TestMeetingStartedInstantSkipsMissedCheck(t *testing.T) {
	f := newFixture()
	f.zoom.meetings["801"] = &zoomapi.Meeting{Topic: "Quick sync"}

	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind: KindMeetingStarted,
		Meeting: &wire.MeetingEvent{Object: wire.MeetingObject{
			ID:   "801",
			Type: wire.MeetingInstant,
		}},
	})
	if err != nil {
		t.Fatalf("meetingStarted: %v", err)
	}
	if len(f.deferred.scheduled) != 0 {
		t.Errorf("missed-meeting check armed for instant meeting: %v", f.deferred.scheduled)
	}
}

func TestMeetingEndedDeletesAndBroadcasts(t *testing.T) {
	f := newFixture()
	f.records.active["900"] = &store.ActiveMeeting{MeetingID: "900", Members: []string{"Ada"}}

	err := f.relay.HandleLifecycleEvent(context.Background(), Event{
		Kind:    KindMeetingEnded,
		Meeting: &wire.MeetingEvent{Object: wire.MeetingObject{ID: "900"}},
	})
	if err != nil {
		t.Fatalf("meetingEnded: %v", err)
	}
	if _, ok := f.records.active["900"]; ok {
		t.Error("ended meeting not deleted")
	}
	if f.broadcast.calls != 1 {
		t.Errorf("got %d broadcasts, want 1", f.broadcast.calls)
	}
}

func TestUnknownEventKind(t *testing.T) {
	f := newFixture()
	if err := f.relay.HandleLifecycleEvent(context.Background(), Event{Kind: "pollStarted"}); err == nil {
		t.Error("expected error for unknown event kind")
	}
}
