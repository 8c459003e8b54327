// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// The zoom-webhooks Lambda handles the WebSocket $connect route and the
// five meeting lifecycle routes forwarded from the conferencing provider.
// It always acknowledges with HTTP 200; processing failures are logged,
// never surfaced to the provider.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/deskhub/office-relay/internal/awsutil"
	"github.com/deskhub/office-relay/internal/config"
	"github.com/deskhub/office-relay/internal/mail"
	"github.com/deskhub/office-relay/internal/notify"
	"github.com/deskhub/office-relay/internal/relay"
	"github.com/deskhub/office-relay/internal/reminder"
	"github.com/deskhub/office-relay/internal/store"
	"github.com/deskhub/office-relay/internal/wire"
	"github.com/deskhub/office-relay/internal/zoomapi"
)

const errKey = "error"

var (
	logger *slog.Logger
	rel    *relay.Relay
)

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

// handler translates one WebSocket invocation into a lifecycle event.
func handler(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logger.With("request_id", uuid.NewString(), "route", req.RequestContext.RouteKey)

	ev := relay.Event{
		Kind:         relay.EventKind(req.RequestContext.RouteKey),
		ConnectionID: req.RequestContext.ConnectionID,
		PrincipalID:  principalID(req),
	}

	if req.Body != "" {
		var envelope wire.ActionEnvelope
		if err := json.Unmarshal([]byte(req.Body), &envelope); err != nil {
			log.With(errKey, err).ErrorContext(ctx, "failed to parse request body")
			return ack(), nil
		}
		if len(envelope.Body) > 0 {
			var meeting wire.MeetingEvent
			if err := json.Unmarshal(envelope.Body, &meeting); err != nil {
				log.With(errKey, err).ErrorContext(ctx, "failed to parse webhook payload")
				return ack(), nil
			}
			ev.Meeting = &meeting
		}
	}

	if ev.Kind != relay.KindConnect && ev.Meeting == nil {
		log.WarnContext(ctx, "lifecycle event missing payload, ignoring")
		return ack(), nil
	}

	if err := rel.HandleLifecycleEvent(ctx, ev); err != nil {
		log.With(errKey, err).ErrorContext(ctx, "lifecycle event failed")
	}
	return ack(), nil
}

// ack is the unconditional provider acknowledgement.
func ack() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Body:       `{"data":"acknowledged"}`,
	}
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
	logger = slog.New(slog.NewJSONHandler(os.Stdout, logOptions))
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

	records := store.New(dynamodb.NewFromConfig(awsCfg), cfg.UserTable, cfg.ActiveMeetingsTable, cfg.ScheduledMeetingsTable)
	zoom := zoomapi.New(ctx, cfg.ZoomBaseURL, cfg.ZoomAPIKey, cfg.ZoomAPISecret)
	dispatcher := notify.NewDispatcher(notify.NewAPIGatewayTransport(awsCfg, cfg.WebsocketEndpoint), records, logger)
	mailer := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.NotifEmail, cfg.NotifEmailPassword)
	engine := reminder.New(
		reminder.NewEventBridgeScheduler(awsCfg, cfg.NotificationFunctionName, cfg.NotificationFunctionARN, logger),
		records, dispatcher, mailer, logger,
	)
	rel = relay.New(records, zoom, dispatcher, engine, logger)

	lambda.Start(handler)
}
