// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package store is the DynamoDB record store adapter for the three
// virtual-office tables: UserData, ActiveMeetings and ScheduledMeetings.
package store

// User is a record in the UserData table. ZoomID is the user's identity at
// the conferencing provider and is indexed by the ZoomGSI secondary index.
type User struct {
	UserID            string   `dynamodbav:"UserID" json:"UserID"`
	Name              string   `dynamodbav:"name" json:"name"`
	ZoomID            string   `dynamodbav:"zoomId" json:"zoomId"`
	Rank              int      `dynamodbav:"rank" json:"rank"`
	ConnectionID      string   `dynamodbav:"connectionId,omitempty" json:"connectionId,omitempty"`
	Location          string   `dynamodbav:"location,omitempty" json:"location,omitempty"`
	ScheduledMeetings []string `dynamodbav:"scheduledMeetings,omitempty" json:"scheduledMeetings,omitempty"`
	Groups            []string `dynamodbav:"groups,omitempty" json:"groups,omitempty"`
}

// ActiveMeeting is a record in the ActiveMeetings table: a currently
// ongoing conferencing session. HostRank is a snapshot of the host's rank
// taken when the record is created; it is never updated afterward.
// Members and InvitedUsers are DynamoDB string sets so that concurrent
// joins mutate them atomically.
type ActiveMeeting struct {
	MeetingID    string   `dynamodbav:"MeetingID" json:"MeetingID"`
	Topic        string   `dynamodbav:"topic" json:"topic"`
	URL          string   `dynamodbav:"url" json:"url"`
	HostRank     int      `dynamodbav:"hostRank" json:"hostRank"`
	InvitedUsers []string `dynamodbav:"invitedUsers,stringset,omitempty" json:"invitedUsers,omitempty"`
	Members      []string `dynamodbav:"members,stringset,omitempty" json:"members,omitempty"`
}

// Participant is an invited participant snapshot on a scheduled meeting.
type Participant struct {
	UserID string `dynamodbav:"UserID" json:"UserID"`
	Name   string `dynamodbav:"name" json:"name"`
}

// ScheduledMeeting is a record in the ScheduledMeetings table. StartDate
// and EndDate are UTC ISO-8601 strings truncated to whole seconds with a
// trailing 'Z'. ParticipantsJoined holds the UserIDs of participants who
// have joined and is always a subset of Participants.
type ScheduledMeeting struct {
	MeetingID          string        `dynamodbav:"MeetingID" json:"MeetingID"`
	Link               string        `dynamodbav:"link" json:"link"`
	Title              string        `dynamodbav:"title" json:"title"`
	StartDate          string        `dynamodbav:"startDate" json:"startDate"`
	EndDate            string        `dynamodbav:"endDate" json:"endDate"`
	Participants       []Participant `dynamodbav:"participants" json:"participants"`
	ParticipantsJoined []string      `dynamodbav:"participantsJoined,stringset,omitempty" json:"participantsJoined,omitempty"`
}
