package inject

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// pageOpTimeout bounds a single script-tag attach or evaluation so one
// wedged page cannot stall the whole sweep indefinitely.
const pageOpTimeout = 30 * time.Second

// dialRod attaches to addr over CDP. Plain host:port or http addresses are
// resolved to the browser's websocket URL first.
func dialRod(ctx context.Context, addr string) (session, error) {
	ws := addr
	if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
		resolved, err := launcher.ResolveURL(ws)
		if err != nil {
			return nil, err
		}
		ws = resolved
	}
	ctx, cancel := context.WithCancel(ctx)
	browser := rod.New().ControlURL(ws).Context(ctx)
	if err := browser.Connect(); err != nil {
		cancel()
		return nil, err
	}
	return &rodSession{browser: browser, cancel: cancel}, nil
}

type rodSession struct {
	browser *rod.Browser
	cancel  context.CancelFunc
}

// Close drops the connection only; the target browser belongs to the
// operator and must stay alive.
func (s *rodSession) Close() error {
	s.cancel()
	return nil
}

// Contexts enumerates the browser's contexts: the default context when it
// owns page targets, plus every explicitly created context.
func (s *rodSession) Contexts() ([]browserContext, error) {
	targets, err := proto.TargetGetTargets{}.Call(s.browser)
	if err != nil {
		return nil, err
	}
	explicit, err := proto.TargetGetBrowserContexts{}.Call(s.browser)
	if err != nil {
		return nil, err
	}

	known := make(map[proto.BrowserBrowserContextID]bool, len(explicit.BrowserContextIDs))
	for _, id := range explicit.BrowserContextIDs {
		known[id] = true
	}
	var defaultPages []proto.TargetTargetID
	pagesByCtx := make(map[proto.BrowserBrowserContextID][]proto.TargetTargetID)
	for _, info := range targets.TargetInfos {
		if info.Type != "page" {
			continue
		}
		if known[info.BrowserContextID] {
			pagesByCtx[info.BrowserContextID] = append(pagesByCtx[info.BrowserContextID], info.TargetID)
		} else {
			defaultPages = append(defaultPages, info.TargetID)
		}
	}

	var out []browserContext
	if len(defaultPages) > 0 {
		out = append(out, &rodContext{s: s, pages: defaultPages})
	}
	for _, id := range explicit.BrowserContextIDs {
		out = append(out, &rodContext{s: s, id: id, pages: pagesByCtx[id]})
	}
	return out, nil
}

func (s *rodSession) CreateContext() (browserContext, error) {
	res, err := proto.TargetCreateBrowserContext{}.Call(s.browser)
	if err != nil {
		return nil, err
	}
	return &rodContext{s: s, id: res.BrowserContextID}, nil
}

type rodContext struct {
	s     *rodSession
	id    proto.BrowserBrowserContextID // empty for the default context
	pages []proto.TargetTargetID
}

// Pages attaches to the context's page targets. Targets that cannot be
// attached anymore (closed mid-flight) are skipped.
func (c *rodContext) Pages() ([]page, error) {
	out := make([]page, 0, len(c.pages))
	for _, tid := range c.pages {
		p, err := c.s.browser.PageFromTarget(tid)
		if err != nil {
			continue
		}
		out = append(out, &rodPage{p: p})
	}
	return out, nil
}

func (c *rodContext) CreatePage() (page, error) {
	req := proto.TargetCreateTarget{URL: "about:blank"}
	if c.id != "" {
		req.BrowserContextID = c.id
	}
	res, err := req.Call(c.s.browser)
	if err != nil {
		return nil, err
	}
	p, err := c.s.browser.PageFromTarget(res.TargetID)
	if err != nil {
		return nil, err
	}
	return &rodPage{p: p}, nil
}

type rodPage struct {
	p *rod.Page
}

func (p *rodPage) AddScriptURL(url string) error {
	return p.p.Timeout(pageOpTimeout).AddScriptTag(url, "")
}

func (p *rodPage) AddScriptContent(src string) error {
	return p.p.Timeout(pageOpTimeout).AddScriptTag("", src)
}

// Eval runs src directly in the page, the fallback for pages where a script
// tag cannot be attached.
func (p *rodPage) Eval(src string) error {
	res, err := proto.RuntimeEvaluate{Expression: src}.Call(p.p.Timeout(pageOpTimeout))
	if err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return errors.New(res.ExceptionDetails.Text)
	}
	return nil
}
