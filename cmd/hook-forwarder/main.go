// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// The hook-forwarder service bridges HTTP webhook deliveries onto the
// WebSocket relay: each lifecycle endpoint accepts a POSTed payload and
// forwards it as an action envelope over a persistent client connection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskhub/office-relay/internal/config"
)

const (
	errKey = "error"
	// maxPayloadBytes caps a webhook body; provider payloads are a few KB.
	maxPayloadBytes = 1 << 20
)

var (
	logger    *slog.Logger
	cfg       *config.Config
	forwarder *Forwarder
)

// lifecycleActions are the relay actions this bridge accepts, one HTTP
// endpoint each.
var lifecycleActions = []string{
	"meetingCreated",
	"meetingStarted",
	"meetingEnded",
	"userJoinedMeeting",
	"userLeftMeeting",
}

// providerEnvelope is the delivery wrapper the conferencing provider puts
// around every webhook: the event name plus the actual payload.
type providerEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// forwardHandler returns the handler for one lifecycle endpoint. The relay
// consumes bare payloads, so only the wrapper's payload member is forwarded.
func forwardHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			logger.With(errKey, err, "action", action).Error("error reading webhook body")
			http.Error(w, "error reading body", http.StatusBadRequest)
			return
		}
		var envelope providerEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Payload) == 0 {
			http.Error(w, "invalid webhook body", http.StatusBadRequest)
			return
		}
		if err := forwarder.Send(action, envelope.Payload); err != nil {
			logger.With(errKey, err, "action", action).Error("error forwarding webhook")
			http.Error(w, "relay unavailable", http.StatusBadGateway)
			return
		}
		logger.With("action", action).Debug("forwarded webhook")
		fmt.Fprintf(w, `{"data":"acknowledged"}`)
	}
}

// main parses optional flags and starts the webhook listener.
func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var debug = flag.Bool("d", false, "enable debug logging")
	var port = flag.String("p", cfg.Port, "webhook listener port")
	var bind = flag.String("bind", cfg.Bind, "interface to bind on")

	flag.Usage = func() {
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	logOptions := &slog.HandlerOptions{}

	// Optional debug logging.
	if cfg.Debug || *debug {
		logOptions.Level = slog.LevelDebug
		logOptions.AddSource = true
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, logOptions))
	slog.SetDefault(logger)

	if err := config.Require(map[string]string{
		"WEBHOOK_SOCKET_URL": cfg.WebhookSocketURL,
	}); err != nil {
		logger.With(errKey, err).Error("invalid configuration")
		os.Exit(1)
	}

	forwarder = NewForwarder(cfg.WebhookSocketURL, logger)

	// Support GET/POST monitoring "ping".
	http.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		// This always returns as long as the service is still running; the
		// relay connection is re-dialed on demand, so a dropped socket is
		// not a liveness failure.
		fmt.Fprintf(w, "OK\n")
	})

	// Basic health check.
	http.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !forwarder.Connected() {
			http.Error(w, "no relay connection", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "OK\n")
	})

	for _, action := range lifecycleActions {
		http.HandleFunc("/"+action, forwardHandler(action))
	}

	var addr string
	if *bind == "*" {
		addr = ":" + *port
	} else {
		addr = *bind + ":" + *port
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.With(errKey, err).Error("http listener error")
			os.Exit(1)
		}
	}()
	logger.With("addr", addr).Info("webhook listener started")

	// Support graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// This next line blocks until SIGINT or SIGTERM is received.
	<-done

	logger.Debug("beginning graceful shutdown")
	forwarder.Close()
	if err = httpServer.Close(); err != nil {
		logger.With(errKey, err).Error("http listener error on close")
	}
}
