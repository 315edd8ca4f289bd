// Package inject fans a script payload out to every page of a remote
// browser over its debugging protocol. Per-page failures are tolerated and
// reported through aggregate counters instead of aborting the sweep.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const DefaultFallbackScript = "script.js"

var (
	// ErrNoPayload means no script source could be resolved from the
	// request or the fallback file.
	ErrNoPayload = errors.New("no script payload resolvable")
	// ErrConnect means the remote debugging target could not be attached.
	ErrConnect = errors.New("cannot attach to remote debugging target")
)

// Stats counts what one injection sweep reached.
type Stats struct {
	Contexts       int `json:"contexts"`
	Pages          int `json:"pages"`
	InjectedURL    int `json:"injected_url"`
	InjectedInline int `json:"injected_inline"`
}

// page is one injectable page within a browser context.
type page interface {
	AddScriptURL(url string) error
	AddScriptContent(src string) error
	Eval(src string) error
}

// browserContext groups the pages of one isolated browsing session.
type browserContext interface {
	Pages() ([]page, error)
	CreatePage() (page, error)
}

// session is an attached remote debugging connection.
type session interface {
	Contexts() ([]browserContext, error)
	CreateContext() (browserContext, error)
	Close() error
}

// dialFunc attaches to a debugging address, either a websocket URL or a
// plain http://host:port endpoint.
type dialFunc func(ctx context.Context, addr string) (session, error)

// Config holds injection engine configuration.
type Config struct {
	FallbackScript string // local file read as inline source when no payload is supplied
	Logger         *slog.Logger
}

// Engine injects script payloads into all pages of a target browser.
type Engine struct {
	dial           dialFunc
	fallbackScript string
	logger         *slog.Logger
}

// New creates an engine attached over the DevTools protocol.
func New(config Config) *Engine {
	if config.FallbackScript == "" {
		config.FallbackScript = DefaultFallbackScript
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Engine{
		dial:           dialRod,
		fallbackScript: config.FallbackScript,
		logger:         config.Logger,
	}
}

// Inject attaches to addr and injects the payload into every page of every
// browser context. scriptURL and inlineJS may each be empty; when both are,
// the fallback file is read as inline source. A page where every mechanism
// fails is skipped, visible only in the counters.
func (e *Engine) Inject(ctx context.Context, addr, scriptURL, inlineJS string) (Stats, error) {
	var stats Stats

	scriptURL = strings.TrimSpace(scriptURL)
	inlineJS = strings.TrimSpace(inlineJS)
	if scriptURL == "" && inlineJS == "" {
		src, err := os.ReadFile(e.fallbackScript)
		if err != nil {
			return stats, fmt.Errorf("%w: no script_url or inline_js and %s is not readable", ErrNoPayload, e.fallbackScript)
		}
		inlineJS = strings.TrimSpace(string(src))
		if inlineJS == "" {
			return stats, fmt.Errorf("%w: fallback file %s is empty", ErrNoPayload, e.fallbackScript)
		}
	}

	sess, err := e.dial(ctx, addr)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer func() { _ = sess.Close() }()

	contexts, err := sess.Contexts()
	if err != nil {
		return stats, fmt.Errorf("list browser contexts: %w", err)
	}
	stats.Contexts = len(contexts)
	if len(contexts) == 0 {
		// Nothing exists yet; create one context so the sweep has a target.
		bc, err := sess.CreateContext()
		if err != nil {
			return stats, fmt.Errorf("create browser context: %w", err)
		}
		contexts = []browserContext{bc}
	}

	for _, bc := range contexts {
		pages, err := bc.Pages()
		if err != nil {
			e.logger.Warn("Skipping context, page enumeration failed", "error", err)
			continue
		}
		if len(pages) == 0 {
			pg, err := bc.CreatePage()
			if err != nil {
				e.logger.Warn("Skipping context, page creation failed", "error", err)
				continue
			}
			pages = []page{pg}
		}
		for _, pg := range pages {
			stats.Pages++
			if scriptURL != "" {
				if err := pg.AddScriptURL(scriptURL); err == nil {
					stats.InjectedURL++
				} else {
					e.logger.Debug("Script tag by URL failed for page", "error", err)
				}
			}
			if inlineJS != "" {
				if err := pg.AddScriptContent(inlineJS); err == nil {
					stats.InjectedInline++
				} else if err := pg.Eval(inlineJS); err == nil {
					stats.InjectedInline++
				} else {
					e.logger.Debug("Inline injection failed for page", "error", err)
				}
			}
		}
	}
	return stats, nil
}
