package gpm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/profilr/internal/profile"
)

const (
	DefaultBaseURL = "http://127.0.0.1:19995"
	DefaultTimeout = 20 * time.Second
)

// Window is the geometry applied to newly started profiles.
type Window struct {
	Width  int
	Height int
	PosX   int
	PosY   int
	Scale  float64
}

// DefaultWindow returns the geometry used when none is configured.
func DefaultWindow() Window {
	return Window{Width: 1920, Height: 1080, Scale: 1.0}
}

// Config holds launch client configuration.
type Config struct {
	BaseURL string
	Token   string // optional bearer token forwarded to the manager
	Timeout time.Duration
	Window  Window
	Logger  *slog.Logger
}

// Client calls the profile manager's local control API to start profiles.
type Client struct {
	base   string
	token  string
	window Window
	logger *slog.Logger
	httpc  *http.Client
}

// New creates a launch client. Zero config fields fall back to defaults.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Window == (Window{}) {
		config.Window = DefaultWindow()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(config.BaseURL, "/"),
		token:  config.Token,
		window: config.Window,
		logger: config.Logger,
		httpc:  &http.Client{Timeout: config.Timeout},
	}
}

// Result is the normalized outcome of one start call. It is merged into the
// profile's registry record and not retained otherwise.
type Result struct {
	Status    profile.Status // started, started_no_debug or error
	DebugHost string
	DebugPort int
	Raw       json.RawMessage // data object retained when no debug address was present
	Err       string          // failure message when Status == error
}

// Launch starts profileID via the manager API and normalizes the response.
// Every failure mode is folded into the result; the call never propagates an
// error to the scheduler.
func (c *Client) Launch(ctx context.Context, profileID string) Result {
	res := Result{Status: profile.StatusError}

	u := fmt.Sprintf("%s/api/v3/profiles/start/%s", c.base, url.PathEscape(profileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		res.Err = fmt.Sprintf("create request: %v", err)
		return res
	}
	q := req.URL.Query()
	q.Set("win_size", fmt.Sprintf("%d,%d", c.window.Width, c.window.Height))
	q.Set("win_pos", fmt.Sprintf("%d,%d", c.window.PosX, c.window.PosY))
	q.Set("win_scale", formatScale(c.window.Scale))
	req.URL.RawQuery = q.Encode()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Starting profile via manager", "profile_id", profileID, "url", c.base)
	resp, err := c.httpc.Do(req)
	if err != nil {
		res.Err = fmt.Sprintf("call profile manager: %v", err)
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = fmt.Sprintf("read manager response: %v", err)
		return res
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Err = fmt.Sprintf("profile manager returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return res
	}

	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		res.Err = fmt.Sprintf("unexpected response: %s", strings.TrimSpace(string(body)))
		return res
	}
	if err := json.Unmarshal(payload.Data, &data); err != nil || data == nil {
		res.Err = fmt.Sprintf("unexpected response: %s", strings.TrimSpace(string(body)))
		return res
	}

	var rda string
	if raw, ok := data["remote_debugging_address"]; ok {
		_ = json.Unmarshal(raw, &rda)
	}
	host, port, ok := splitDebugAddress(rda)
	if !ok {
		// Started fine but the manager gave us nothing to attach to. Keep the
		// data payload for diagnostics.
		res.Status = profile.StatusStartedNoDebug
		res.Raw = payload.Data
		return res
	}

	res.Status = profile.StatusStarted
	res.DebugHost = host
	res.DebugPort = port
	return res
}

// splitDebugAddress parses "host:port" from the manager response. Anything
// that does not carry a host and a numeric port reads as absent.
func splitDebugAddress(addr string) (string, int, bool) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found || host == "" {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, false
	}
	return host, port, true
}

func formatScale(scale float64) string {
	s := strconv.FormatFloat(scale, 'f', -1, 64)
	// keep a decimal point, the manager expects scale in "1.0" form
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
