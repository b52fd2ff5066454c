// Package video provisions Daily.co rooms for live sessions.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

const defaultBaseURL = "https://api.daily.co/v1"

var tracer = otel.Tracer("teletherapy.internal.video")

// ErrRoomNotFound is returned by GetRoom when Daily has no room by that name.
var ErrRoomNotFound = errors.New("video: room not found")

// Config controls the Daily client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Room is the subset of Daily's room object the platform uses.
type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Privacy string `json:"privacy"`
}

// DailyClient talks to the Daily.co REST API.
type DailyClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewDailyClient(cfg Config) (*DailyClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("video: daily API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &DailyClient{apiKey: cfg.APIKey, baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// RoomName is the deterministic Daily room name for a session.
func RoomName(sessionID uuid.UUID) string {
	return "session-" + sessionID.String()
}

// EnsureRoom returns the join URL of the session's private room, creating it
// when it does not exist yet. The room expires at expiresAt.
func (c *DailyClient) EnsureRoom(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "daily.ensure_room")
	defer span.End()
	span.SetAttributes(attribute.String("teletherapy.session_id", sessionID.String()))

	name := RoomName(sessionID)
	room, err := c.GetRoom(ctx, name)
	switch {
	case err == nil:
		return room.URL, nil
	case !errors.Is(err, ErrRoomNotFound):
		return "", err
	}

	room, err = c.CreateRoom(ctx, name, expiresAt)
	if err != nil {
		return "", err
	}
	c.logger.Info("video room created", "session_id", sessionID, "room", room.Name, "expires_at", expiresAt)
	return room.URL, nil
}

// GetRoom fetches a room by name.
func (c *DailyClient) GetRoom(ctx context.Context, name string) (*Room, error) {
	var room Room
	status, err := c.do(ctx, http.MethodGet, "/rooms/"+name, nil, &room)
	if status == http.StatusNotFound {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom creates a private room that ejects participants at expiry.
func (c *DailyClient) CreateRoom(ctx context.Context, name string, expiresAt time.Time) (*Room, error) {
	body := map[string]any{
		"name":    name,
		"privacy": "private",
		"properties": map[string]any{
			"exp":                expiresAt.Unix(),
			"eject_at_room_exp":  true,
			"enable_chat":        true,
			"enable_recording":   false,
			"start_video_off":    false,
			"enable_knocking":    false,
			"enable_screenshare": true,
		},
	}
	var room Room
	if _, err := c.do(ctx, http.MethodPost, "/rooms", body, &room); err != nil {
		return nil, err
	}
	if room.URL == "" {
		return nil, fmt.Errorf("video: daily returned room %q without url", room.Name)
	}
	return &room, nil
}

func (c *DailyClient) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("video: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("video: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("video: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("video: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("video: daily %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("video: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
