// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// The notifications Lambda is invoked by the EventBridge rules the
// reminder engine arms: the 30/15/Now reminder tiers and the deferred
// missed-meeting email check.
package main

import (
	"context"
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
	"github.com/deskhub/office-relay/internal/reminder"
	"github.com/deskhub/office-relay/internal/store"
)

const errKey = "error"

var (
	logger *slog.Logger
	engine *reminder.Engine
)

// handler processes one fired trigger.
func handler(ctx context.Context, trig reminder.Trigger) (events.APIGatewayProxyResponse, error) {
	log := logger.With(
		"request_id", uuid.NewString(),
		"rule", trig.RuleName,
		"tier", string(trig.NotificationType),
		"meeting_id", string(trig.Data.ID),
	)

	if !trig.IsValid() {
		log.WarnContext(ctx, "trigger missing event data")
		return events.APIGatewayProxyResponse{StatusCode: 400, Body: "Missing event data"}, nil
	}

	if err := engine.OnReminderFired(ctx, trig); err != nil {
		log.With(errKey, err).ErrorContext(ctx, "failed to process reminder trigger")
		return events.APIGatewayProxyResponse{StatusCode: 500, Body: err.Error()}, nil
	}

	log.InfoContext(ctx, "reminder trigger processed")
	return events.APIGatewayProxyResponse{StatusCode: 200, Body: "Finished sending notifications"}, nil
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
	dispatcher := notify.NewDispatcher(notify.NewAPIGatewayTransport(awsCfg, cfg.WebsocketEndpoint), records, logger)
	mailer := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.NotifEmail, cfg.NotifEmailPassword)
	engine = reminder.New(
		reminder.NewEventBridgeScheduler(awsCfg, cfg.NotificationFunctionName, cfg.NotificationFunctionARN, logger),
		records, dispatcher, mailer, logger,
	)

	lambda.Start(handler)
}
