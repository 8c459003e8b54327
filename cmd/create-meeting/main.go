// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// The create-meeting Lambda serves the createMeeting and
// createScheduledMeeting client actions on the WebSocket channel. Failures
// are pushed back to the caller's own connection as an error envelope.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/deskhub/office-relay/internal/awsutil"
	"github.com/deskhub/office-relay/internal/config"
	"github.com/deskhub/office-relay/internal/mail"
	"github.com/deskhub/office-relay/internal/notify"
	"github.com/deskhub/office-relay/internal/reminder"
	"github.com/deskhub/office-relay/internal/store"
	"github.com/deskhub/office-relay/internal/wire"
	"github.com/deskhub/office-relay/internal/zoomapi"
)

const errKey = "error"

// notificationThresholdMinutes mirrors the reminder engine's debounce
// margin: a scheduled meeting must start at least this far in the future.
const notificationThresholdMinutes = 1

// createMeetingBody is the client-supplied body of both create actions.
type createMeetingBody struct {
	Topic       string   `json:"topic"`
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime"`
	Members     []string `json:"members"`
	WaitingRoom bool     `json:"waitingRoom"`
}

// records is the record-store surface the actions need.
type records interface {
	GetUser(ctx context.Context, userID string) (*store.User, error)
	PutScheduledMeeting(ctx context.Context, m store.ScheduledMeeting) error
	AppendScheduledMeeting(ctx context.Context, userID, meetingID string) error
}

// conferencing is the provider surface the actions need.
type conferencing interface {
	CreateMeeting(ctx context.Context, zoomUserID string, req zoomapi.CreateMeetingRequest) (*zoomapi.Meeting, error)
	BatchRegisterUsers(ctx context.Context, meetingID string, registrants []zoomapi.Registrant) error
}

// notifier pushes envelopes to the caller and invited members.
type notifier interface {
	NotifyConnection(ctx context.Context, connectionID string, env wire.Envelope)
	NotifyUser(ctx context.Context, userID string, env wire.Envelope)
}

// scheduler arms the initial reminder trigger.
type scheduler interface {
	ScheduleMeetingNotifications(ctx context.Context, data reminder.MeetingData) error
}

// actions implements the two create-meeting operations.
type actions struct {
	records records
	zoom    conferencing
	notify  notifier
	engine  scheduler
	logger  *slog.Logger
	now     func() time.Time
}

// settings builds the provider meeting settings: either a waiting room, or
// allowing participants in before the host.
func settings(body createMeetingBody) zoomapi.MeetingSettings {
	if body.WaitingRoom {
		return zoomapi.MeetingSettings{WaitingRoom: true}
	}
	return zoomapi.MeetingSettings{JoinBeforeHost: true}
}

// topicOrDefault applies the default meeting topic.
func topicOrDefault(topic string) string {
	if topic == "" {
		return "New Zoom Meeting"
	}
	return topic
}

// meetingObject converts a provider meeting response into the shape the
// client channel carries.
func meetingObject(m *zoomapi.Meeting) wire.MeetingObject {
	return wire.MeetingObject{
		ID:        wire.MeetingID(m.ID.String()),
		Topic:     m.Topic,
		JoinURL:   m.JoinURL,
		StartTime: m.StartTime,
		Duration:  m.Duration,
		Timezone:  m.Timezone,
		Type:      m.Type,
		HostID:    m.HostID,
		HostEmail: m.HostEmail,
	}
}

// createInstantMeeting creates an instant meeting, pushes the join link to
// the caller (as host) and every invited member, and echoes the created
// meeting back to the caller.
func (a *actions) createInstantMeeting(ctx context.Context, callerConn, zoomUserID string, body createMeetingBody) error {
	meeting, err := a.zoom.CreateMeeting(ctx, zoomUserID, zoomapi.CreateMeetingRequest{
		Topic:    topicOrDefault(body.Topic),
		Type:     wire.MeetingInstant,
		Settings: settings(body),
	})
	if err != nil {
		return fmt.Errorf("creating instant meeting: %w", err)
	}

	a.notify.NotifyConnection(ctx, callerConn, wire.NewIncomingCall(wire.IncomingCall{
		Topic: meeting.Topic,
		URL:   meeting.JoinURL,
		Host:  true,
	}))
	for _, member := range body.Members {
		a.notify.NotifyUser(ctx, member, wire.NewIncomingCall(wire.IncomingCall{
			Topic: meeting.Topic,
			URL:   meeting.JoinURL,
		}))
	}

	a.notify.NotifyConnection(ctx, callerConn, wire.NewMeetingResponse(meetingObject(meeting)))
	return nil
}

// validateSchedule checks the scheduled-meeting time window and returns
// its duration in whole minutes.
func (a *actions) validateSchedule(body createMeetingBody) (int, error) {
	if body.StartTime == "" || body.EndTime == "" || len(body.Members) == 0 {
		return 0, errors.New("createScheduledMeeting missing one of required params: startTime, endTime, members")
	}
	start, err := reminder.ParseUTC(body.StartTime)
	if err != nil {
		return 0, fmt.Errorf("invalid startTime: %w", err)
	}
	end, err := reminder.ParseUTC(body.EndTime)
	if err != nil {
		return 0, fmt.Errorf("invalid endTime: %w", err)
	}

	duration := int(end.Sub(start).Minutes())
	if duration < 1 {
		return 0, errors.New("endTime must come after startTime and must be at least a minute long")
	}
	if int(start.Sub(a.now()).Minutes()) < notificationThresholdMinutes {
		return 0, fmt.Errorf("meeting must begin at least %d minutes in the future", notificationThresholdMinutes)
	}
	return duration, nil
}

// createScheduledMeeting creates a provider-scheduled meeting, registers
// the invitees, persists the ScheduledMeeting record, links it to every
// participant, and arms the initial reminder tier.
func (a *actions) createScheduledMeeting(ctx context.Context, callerConn, callerID, zoomUserID string, body createMeetingBody) error {
	duration, err := a.validateSchedule(body)
	if err != nil {
		return err
	}

	meeting, err := a.zoom.CreateMeeting(ctx, zoomUserID, zoomapi.CreateMeetingRequest{
		Topic:     topicOrDefault(body.Topic),
		Type:      wire.MeetingScheduled,
		StartTime: body.StartTime,
		Duration:  duration,
		Timezone:  "UTC",
		Settings:  settings(body),
	})
	if err != nil {
		return fmt.Errorf("creating scheduled meeting: %w", err)
	}
	meetingID := meeting.ID.String()

	// Snapshot every participant (invited members plus the creator) and
	// link the meeting into their scheduled list.
	memberIDs := append(append([]string{}, body.Members...), callerID)
	participants := make([]store.Participant, 0, len(memberIDs))
	registrants := make([]zoomapi.Registrant, 0, len(body.Members))
	for _, memberID := range memberIDs {
		user, err := a.records.GetUser(ctx, memberID)
		if err != nil {
			return fmt.Errorf("one or more meeting members are invalid: %w", err)
		}
		participants = append(participants, store.Participant{UserID: user.UserID, Name: user.Name})
		if user.UserID != callerID {
			registrants = append(registrants, zoomapi.Registrant{Email: user.ZoomID, FirstName: user.Name})
		}
		if err := a.records.AppendScheduledMeeting(ctx, user.UserID, meetingID); err != nil {
			return err
		}
	}

	if err := a.zoom.BatchRegisterUsers(ctx, meetingID, registrants); err != nil {
		return fmt.Errorf("registering meeting members: %w", err)
	}

	startDate, err := reminder.NormalizeToUTC(meeting.StartTime, meeting.Timezone)
	if err != nil {
		return fmt.Errorf("normalizing start time: %w", err)
	}
	start, err := reminder.ParseUTC(startDate)
	if err != nil {
		return err
	}
	if err := a.records.PutScheduledMeeting(ctx, store.ScheduledMeeting{
		MeetingID:    meetingID,
		Link:         meeting.JoinURL,
		Title:        meeting.Topic,
		StartDate:    startDate,
		EndDate:      reminder.FormatUTC(start.Add(time.Duration(meeting.Duration) * time.Minute)),
		Participants: participants,
	}); err != nil {
		return err
	}

	if err := a.engine.ScheduleMeetingNotifications(ctx, reminder.MeetingData{
		ID:        wire.MeetingID(meetingID),
		Topic:     meeting.Topic,
		StartTime: startDate,
		HostEmail: meeting.HostEmail,
	}); err != nil {
		return err
	}

	a.notify.NotifyConnection(ctx, callerConn, wire.NewConfirmation("Successfully created a scheduled meeting"))
	return nil
}

// handle dispatches one client action.
func (a *actions) handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID
	log := a.logger.With("request_id", uuid.NewString(), "route", req.RequestContext.RouteKey)

	callerID := principalID(req)

	var envelope wire.ActionEnvelope
	if err := json.Unmarshal([]byte(req.Body), &envelope); err != nil {
		return a.fail(ctx, log, connectionID, fmt.Errorf("parsing request body: %w", err)), nil
	}
	var body createMeetingBody
	if len(envelope.Body) > 0 {
		if err := json.Unmarshal(envelope.Body, &body); err != nil {
			return a.fail(ctx, log, connectionID, fmt.Errorf("parsing action body: %w", err)), nil
		}
	}

	// The caller's provider identity; "me" targets the API credential's
	// own account when the caller is not in the directory.
	zoomUserID := "me"
	if caller, err := a.records.GetUser(ctx, callerID); err == nil {
		zoomUserID = caller.ZoomID
	}

	var err error
	switch envelope.Action {
	case "createMeeting":
		err = a.createInstantMeeting(ctx, connectionID, zoomUserID, body)
	case "createScheduledMeeting":
		err = a.createScheduledMeeting(ctx, connectionID, callerID, zoomUserID, body)
	default:
		log.With("action", envelope.Action).WarnContext(ctx, "unknown action, ignoring")
	}
	if err != nil {
		return a.fail(ctx, log, connectionID, err), nil
	}

	return events.APIGatewayProxyResponse{StatusCode: 200, Body: `{"data":"acknowledged"}`}, nil
}

// fail pushes the error to the caller's connection and returns the 500
// response body.
func (a *actions) fail(ctx context.Context, log *slog.Logger, connectionID string, err error) events.APIGatewayProxyResponse {
	log.With(errKey, err).ErrorContext(ctx, "create-meeting action failed")
	a.notify.NotifyConnection(ctx, connectionID, wire.NewError(err.Error()))
	return events.APIGatewayProxyResponse{StatusCode: 500, Body: "CREATE MEETING ERROR"}
}

// principalID extracts the caller identity injected by the upstream
// authorizer, empty when absent.
func principalID(req events.APIGatewayWebsocketProxyRequest) string {
	auth, ok := req.RequestContext.Authorizer.(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := auth["principalId"].(string)
	return id
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logOptions := &slog.HandlerOptions{}
	if cfg.Debug {
		logOptions.Level = slog.LevelDebug
		logOptions.AddSource = true
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, logOptions))
	slog.SetDefault(logger)

	if err := config.Require(map[string]string{
		"WEBSOCKET_ENDPOINT":        cfg.WebsocketEndpoint,
		"ZOOM_API_KEY":              cfg.ZoomAPIKey,
		"ZOOM_API_SECRET":           cfg.ZoomAPISecret,
		"NOTIFICATION_FUNCTION_ARN": cfg.NotificationFunctionARN,
	}); err != nil {
		logger.With(errKey, err).Error("invalid configuration")
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := awsutil.LoadConfig(ctx, cfg.AWSRegion, cfg.AssumeRoleARN)
	if err != nil {
		logger.With(errKey, err).Error("error loading AWS config")
		os.Exit(1)
	}

	recordStore := store.New(dynamodb.NewFromConfig(awsCfg), cfg.UserTable, cfg.ActiveMeetingsTable, cfg.ScheduledMeetingsTable)
	dispatcher := notify.NewDispatcher(notify.NewAPIGatewayTransport(awsCfg, cfg.WebsocketEndpoint), recordStore, logger)
	mailer := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.NotifEmail, cfg.NotifEmailPassword)
	engine := reminder.New(
		reminder.NewEventBridgeScheduler(awsCfg, cfg.NotificationFunctionName, cfg.NotificationFunctionARN, logger),
		recordStore, dispatcher, mailer, logger,
	)

	app := &actions{
		records: recordStore,
		zoom:    zoomapi.New(ctx, cfg.ZoomBaseURL, cfg.ZoomAPIKey, cfg.ZoomAPISecret),
		notify:  dispatcher,
		engine:  engine,
		logger:  logger,
		now:     time.Now,
	}

	lambda.Start(app.handle)
}
