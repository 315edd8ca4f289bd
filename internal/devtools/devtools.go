// Package devtools locates the remote debugging endpoint of a launched
// browser by polling its DevTools metadata API.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultTimeout      = 6 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
	DefaultProbeTimeout = 2 * time.Second
)

// Options control the discovery polling loop.
type Options struct {
	Timeout      time.Duration // overall deadline for the poll
	PollInterval time.Duration // fixed delay between rounds
	ProbeTimeout time.Duration // per-request timeout
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	return o
}

// Discover polls http://host:port/json/version and /json until a websocket
// debugger URL shows up or the deadline elapses. An empty return means
// nothing was found in time; individual probe failures are swallowed. The
// loop always terminates within the configured timeout plus one probe.
func Discover(ctx context.Context, host string, port int, opts Options) string {
	opts = opts.withDefaults()
	base := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	httpc := &http.Client{Timeout: opts.ProbeTimeout}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		if ws := probe(ctx, httpc, base); ws != "" {
			return ws
		}
		select {
		case <-ctx.Done():
			return ""
		case <-ticker.C:
		}
	}
}

// probe runs one discovery round: the version object first, then the target
// list, first entry with a websocket URL wins.
func probe(ctx context.Context, httpc *http.Client, base string) string {
	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := getJSON(ctx, httpc, base+"/json/version", &version); err == nil && version.WebSocketDebuggerURL != "" {
		return version.WebSocketDebuggerURL
	}

	var targets []struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := getJSON(ctx, httpc, base+"/json", &targets); err != nil {
		return ""
	}
	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL
		}
	}
	return ""
}

func getJSON(ctx context.Context, httpc *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
