// Package egress talks to the remote media-composition engine: twirp-style JSON calls over HTTP for
// session control, a per-attempt notification hub for status changes, a Redis fan-out that carries
// those notifications between instances, and verification of the engine's webhooks.
package egress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrRoomNotFound is returned by GetRoom when the engine has no such room.
var ErrRoomNotFound = errors.New("egress: room not found")

const (
	egressService = "/twirp/livekit.Egress/"
	roomService   = "/twirp/livekit.RoomService/"
)

// Config configures the engine client.
type Config struct {
	URL        string
	APIKey     string
	APISecret  string
	RetryCount int
	Timeout    time.Duration
}

// APIError is a non-2xx twirp response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine error %d %s: %s", e.StatusCode, e.Code, e.Msg)
}

// Client is the media engine REST client.
type Client struct {
	http   *resty.Client
	once   *resty.Client // never retries; used for calls that create engine state
	cfg    Config
	logger *zap.Logger
}

// NewClient creates an engine client on httpClient (nil = new resty client). cfg.RetryCount applies to
// stop and read calls only; a start is sent at most once.
func NewClient(cfg Config, httpClient *resty.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = resty.New()
	}
	httpClient.SetBaseURL(cfg.URL).SetRetryCount(cfg.RetryCount)
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}
	once := resty.NewWithClient(httpClient.GetClient()).SetBaseURL(cfg.URL).SetRetryCount(0)
	return &Client{http: httpClient, once: once, cfg: cfg, logger: logger}
}

type startRequest struct {
	RoomName    string       `json:"roomName"`
	Layout      string       `json:"layout,omitempty"`
	Preset      string       `json:"preset,omitempty"`
	FileOutputs []fileOutput `json:"fileOutputs"`
}

type fileOutput struct {
	Filepath string `json:"filepath"`
}

// StartComposition asks the engine to start recording roomID and returns the provisional session.
func (c *Client) StartComposition(ctx context.Context, roomID string, out OutputConfig) (Info, error) {
	req := startRequest{
		RoomName:    roomID,
		Layout:      out.Layout,
		Preset:      out.Encoding,
		FileOutputs: []fileOutput{{Filepath: out.Filepath}},
	}
	var info Info
	if err := c.callOnce(ctx, egressService+"StartRoomCompositeEgress", VideoGrant{RoomRecord: true}, req, &info); err != nil {
		return Info{}, fmt.Errorf("start composition %s: %w", roomID, err)
	}
	if info.EgressID == "" {
		return Info{}, fmt.Errorf("start composition %s: engine returned no session id", roomID)
	}
	return info, nil
}

// StopComposition asks the engine to stop the session.
func (c *Client) StopComposition(ctx context.Context, egressID string) (Info, error) {
	var info Info
	body := map[string]string{"egressId": egressID}
	if err := c.call(ctx, egressService+"StopEgress", VideoGrant{RoomRecord: true}, body, &info); err != nil {
		return Info{}, fmt.Errorf("stop composition %s: %w", egressID, err)
	}
	return info, nil
}

type listEgressResponse struct {
	Items []Info `json:"items"`
}

// ListInProgress returns the sessions of roomID that are still producing output.
func (c *Client) ListInProgress(ctx context.Context, roomID string) ([]Info, error) {
	var resp listEgressResponse
	body := map[string]any{"roomName": roomID, "active": true}
	if err := c.call(ctx, egressService+"ListEgress", VideoGrant{RoomRecord: true}, body, &resp); err != nil {
		return nil, fmt.Errorf("list sessions %s: %w", roomID, err)
	}
	var out []Info
	for _, item := range resp.Items {
		if item.Status.InProgress() {
			out = append(out, item)
		}
	}
	return out, nil
}

type listRoomsResponse struct {
	Rooms []Room `json:"rooms"`
}

// GetRoom returns the live state of roomID, or ErrRoomNotFound.
func (c *Client) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var resp listRoomsResponse
	body := map[string]any{"names": []string{roomID}}
	if err := c.call(ctx, roomService+"ListRooms", VideoGrant{RoomList: true}, body, &resp); err != nil {
		return Room{}, fmt.Errorf("get room %s: %w", roomID, err)
	}
	for _, r := range resp.Rooms {
		if r.Name == roomID {
			return r, nil
		}
	}
	return Room{}, ErrRoomNotFound
}

// RoomExists reports whether the engine currently hosts roomID.
func (c *Client) RoomExists(ctx context.Context, roomID string) (bool, error) {
	_, err := c.GetRoom(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) call(ctx context.Context, path string, grant VideoGrant, body, out any) error {
	return c.do(ctx, c.http, path, grant, body, out)
}

// callOnce sends a call that must reach the engine at most once.
func (c *Client) callOnce(ctx context.Context, path string, grant VideoGrant, body, out any) error {
	return c.do(ctx, c.once, path, grant, body, out)
}

func (c *Client) do(ctx context.Context, rc *resty.Client, path string, grant VideoGrant, body, out any) error {
	token, err := GenerateAccessToken(c.cfg.APIKey, c.cfg.APISecret, grant, 0)
	if err != nil {
		return err
	}
	resp, err := rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(out).
		SetError(&APIError{}).
		Post(path)
	if err != nil {
		c.logger.Warn("engine call failed", zap.String("path", path), zap.Error(err))
		return err
	}
	if !resp.IsSuccess() {
		apiErr, ok := resp.Error().(*APIError)
		if !ok || apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode())
		}
		c.logger.Warn("engine call rejected", zap.String("path", path), zap.Int("status", resp.StatusCode()), zap.String("code", apiErr.Code))
		return apiErr
	}
	return nil
}
