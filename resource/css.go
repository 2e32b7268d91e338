package resource

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/saiset-co/sai-fx/types"
)

// StyleSink is where stylesheets are attached once loaded.
type StyleSink interface {
	Attach(id, css string)
	Detach(id string)
}

type MemoryStyleSink struct {
	styles map[string]string
	mu     sync.RWMutex
}

func NewMemoryStyleSink() *MemoryStyleSink {
	return &MemoryStyleSink{styles: make(map[string]string)}
}

func (s *MemoryStyleSink) Attach(id, css string) {
	s.mu.Lock()
	s.styles[id] = css
	s.mu.Unlock()
}

func (s *MemoryStyleSink) Detach(id string) {
	s.mu.Lock()
	delete(s.styles, id)
	s.mu.Unlock()
}

func (s *MemoryStyleSink) Get(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	css, ok := s.styles[id]
	return css, ok
}

func (s *MemoryStyleSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.styles)
}

// Stylesheet is a loaded css resource attached to a sink under its path.
type Stylesheet struct {
	id       string
	source   string
	minify   bool
	sink     StyleSink
	mu       sync.Mutex
	scope    string
	rendered string
	attached bool
}

func newCSSResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		content, err := deps.fetch(ctx, source(cfg))
		if err != nil {
			return nil, err
		}

		sheet := &Stylesheet{
			id:     path,
			source: string(content.Body),
			minify: cfg.BoolParam("minify"),
			sink:   deps.Styles,
		}
		sheet.Rescope(cfg.StringParam("scope", ""))
		return sheet, nil
	})
}

func (s *Stylesheet) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

func (s *Stylesheet) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Rescope re-renders the sheet under scope and re-attaches it.
func (s *Stylesheet) Rescope(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	css := s.source
	if s.minify {
		css = Minify(css)
	}
	if scope != "" {
		css = Scope(css, scope)
	}

	s.scope = scope
	s.rendered = css
	s.attached = true
	if s.sink != nil {
		s.sink.Attach(s.id, css)
	}
}

// Remove detaches the sheet. Rescope attaches it again.
func (s *Stylesheet) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached && s.sink != nil {
		s.sink.Detach(s.id)
	}
	s.attached = false
}

func (s *Stylesheet) Method(name string) (types.Method, bool) {
	switch name {
	case "get":
		return func(context.Context, ...interface{}) (interface{}, error) { return s.Get(), nil }, true
	case "remove":
		return func(context.Context, ...interface{}) (interface{}, error) { s.Remove(); return nil, nil }, true
	case "rescope":
		return func(_ context.Context, args ...interface{}) (interface{}, error) {
			scope := ""
			if len(args) > 0 {
				scope, _ = args[0].(string)
			}
			s.Rescope(scope)
			return s.Get(), nil
		}, true
	}
	return nil, false
}

var (
	cssComment    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	cssWhitespace = regexp.MustCompile(`\s+`)
	cssPunct      = regexp.MustCompile(`\s*([{}:;,>])\s*`)
)

// Minify drops comments and collapses whitespace.
func Minify(css string) string {
	css = cssComment.ReplaceAllString(css, "")
	css = cssWhitespace.ReplaceAllString(css, " ")
	css = cssPunct.ReplaceAllString(css, "$1")
	css = strings.ReplaceAll(css, ";}", "}")
	return strings.TrimSpace(css)
}

// Scope prefixes every selector of every rule with scope. At-rules that
// hold nested rules (@media, @supports) have their inner selectors scoped;
// other at-rules are left alone.
func Scope(css, scope string) string {
	var out strings.Builder
	scopeBlock(&out, css, scope)
	return out.String()
}

func scopeBlock(out *strings.Builder, css, scope string) {
	for len(css) > 0 {
		open := strings.IndexByte(css, '{')
		if open < 0 {
			out.WriteString(css)
			return
		}

		prelude := css[:open]
		closeIdx := matchingBrace(css, open)
		if closeIdx < 0 {
			out.WriteString(css)
			return
		}
		body := css[open+1 : closeIdx]
		selector := strings.TrimSpace(prelude)
		lead := prelude[:len(prelude)-len(strings.TrimLeft(prelude, " \t\r\n"))]

		out.WriteString(lead)
		switch {
		case strings.HasPrefix(selector, "@media"), strings.HasPrefix(selector, "@supports"):
			out.WriteString(selector)
			out.WriteByte('{')
			scopeBlock(out, body, scope)
			out.WriteByte('}')
		case strings.HasPrefix(selector, "@"):
			out.WriteString(selector)
			out.WriteByte('{')
			out.WriteString(body)
			out.WriteByte('}')
		default:
			out.WriteString(scopeSelectors(selector, scope))
			out.WriteByte('{')
			out.WriteString(body)
			out.WriteByte('}')
		}

		css = css[closeIdx+1:]
	}
}

func scopeSelectors(selector, scope string) string {
	parts := strings.Split(selector, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case ":root", "html", "body":
			parts[i] = scope
		default:
			parts[i] = scope + " " + part
		}
	}
	return strings.Join(parts, ",")
}

func matchingBrace(css string, open int) int {
	depth := 0
	for i := open; i < len(css); i++ {
		switch css[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
