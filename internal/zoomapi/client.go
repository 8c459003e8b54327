// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package zoomapi is a thin client for the conferencing provider's REST
// API: create meeting, fetch meeting/user details, list recordings and
// batch-register invitees.
package zoomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

const (
	// Detail lookups repeat heavily during webhook bursts; cache them
	// briefly so a join storm does not hammer the provider API.
	detailCacheExpiry  = 5 * time.Minute
	detailCacheCleanup = 10 * time.Minute

	meetingCacheKeyPrefix = "meeting."
	userCacheKeyPrefix    = "user."

	// The provider caps batch registration requests at 30 registrants.
	registrantBatchSize = 30
)

// Meeting is the provider's meeting resource.
type Meeting struct {
	ID        json.Number `json:"id"`
	UUID      string      `json:"uuid"`
	Topic     string      `json:"topic"`
	Type      int         `json:"type"`
	StartTime string      `json:"start_time"`
	Duration  int         `json:"duration"`
	Timezone  string      `json:"timezone"`
	JoinURL   string      `json:"join_url"`
	HostID    string      `json:"host_id"`
	HostEmail string      `json:"host_email"`
}

// User is the provider's user resource.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Type      int    `json:"type"`
}

// Recording is one recording file on a past meeting.
type Recording struct {
	ID          string `json:"id"`
	MeetingUUID string `json:"meeting_uuid"`
	FileType    string `json:"file_type"`
	PlayURL     string `json:"play_url"`
	DownloadURL string `json:"download_url"`
}

// RecordingMeeting groups the recordings of one past meeting.
type RecordingMeeting struct {
	ID             json.Number `json:"id"`
	UUID           string      `json:"uuid"`
	Topic          string      `json:"topic"`
	StartTime      string      `json:"start_time"`
	RecordingFiles []Recording `json:"recording_files"`
}

// RecordingList is the response of the list-recordings endpoint.
type RecordingList struct {
	From     string             `json:"from"`
	To       string             `json:"to"`
	Meetings []RecordingMeeting `json:"meetings"`
}

// MeetingSettings are the provider-side meeting options we set.
type MeetingSettings struct {
	WaitingRoom    bool `json:"waiting_room,omitempty"`
	JoinBeforeHost bool `json:"join_before_host,omitempty"`
}

// CreateMeetingRequest is the body of the create-meeting endpoint.
type CreateMeetingRequest struct {
	Topic     string          `json:"topic"`
	Type      int             `json:"type"`
	StartTime string          `json:"start_time,omitempty"`
	Duration  int             `json:"duration,omitempty"`
	Timezone  string          `json:"timezone,omitempty"`
	Settings  MeetingSettings `json:"settings"`
}

// Registrant is one invitee in a batch registration call.
type Registrant struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// Client issues signed calls against the provider REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *gocache.Cache
}

// New builds a Client authenticating with the given API key and secret.
func New(ctx context.Context, baseURL, apiKey, apiSecret string) *Client {
	src := &jwtTokenSource{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
	return &Client{
		httpClient: oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src)),
		baseURL:    baseURL,
		cache:      gocache.New(detailCacheExpiry, detailCacheCleanup),
	}
}

// GetMeeting fetches meeting details, serving repeats from cache.
func (c *Client) GetMeeting(ctx context.Context, meetingID string) (*Meeting, error) {
	if cached, found := c.cache.Get(meetingCacheKeyPrefix + meetingID); found {
		m := cached.(Meeting)
		return &m, nil
	}

	var m Meeting
	if err := c.get(ctx, "/meetings/"+url.PathEscape(meetingID), &m); err != nil {
		return nil, err
	}
	c.cache.Set(meetingCacheKeyPrefix+meetingID, m, gocache.DefaultExpiration)
	return &m, nil
}

// GetUser fetches provider user details, serving repeats from cache.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	if cached, found := c.cache.Get(userCacheKeyPrefix + userID); found {
		u := cached.(User)
		return &u, nil
	}

	var u User
	if err := c.get(ctx, "/users/"+url.PathEscape(userID), &u); err != nil {
		return nil, err
	}
	c.cache.Set(userCacheKeyPrefix+userID, u, gocache.DefaultExpiration)
	return &u, nil
}

// CreateMeeting creates a meeting under the given provider user.
func (c *Client) CreateMeeting(ctx context.Context, zoomUserID string, req CreateMeetingRequest) (*Meeting, error) {
	var m Meeting
	if err := c.post(ctx, "/users/"+url.PathEscape(zoomUserID)+"/meetings", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecordings lists the recordings of a provider user's past meetings.
func (c *Client) ListRecordings(ctx context.Context, zoomUserID string, from, to time.Time) (*RecordingList, error) {
	path := fmt.Sprintf("/users/%s/recordings?from=%s&to=%s",
		url.PathEscape(zoomUserID),
		from.UTC().Format("2006-01-02"),
		to.UTC().Format("2006-01-02"))
	var list RecordingList
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// BatchRegisterUsers registers invitees on a meeting in batches of 30 with
// registration auto-approved.
func (c *Client) BatchRegisterUsers(ctx context.Context, meetingID string, registrants []Registrant) error {
	path := "/meetings/" + url.PathEscape(meetingID) + "/batch_registrants"
	for start := 0; start < len(registrants); start += registrantBatchSize {
		end := min(start+registrantBatchSize, len(registrants))
		body := map[string]any{
			"auto_approve": 1,
			"registrants":  registrants[start:end],
		}
		if err := c.post(ctx, path, body, nil); err != nil {
			return fmt.Errorf("registering batch starting at %d: %w", start, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling conferencing API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading conferencing API response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("conferencing API %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding conferencing API response: %w", err)
	}
	return nil
}
