package resource

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/saiset-co/sai-fx/types"
)

// Document is a parsed html resource.
type Document struct {
	raw string
	doc *goquery.Document
}

func newHTMLResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		content, err := deps.fetch(ctx, source(cfg))
		if err != nil {
			return nil, err
		}
		return ParseDocument(content.Body)
	})
}

func ParseDocument(body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, types.WrapError(err, "failed to parse html")
	}
	return &Document{raw: string(body), doc: doc}, nil
}

func (d *Document) Raw() string {
	return d.raw
}

// Query returns the outer html of every element matching selector,
// concatenated. An empty selector returns the raw source.
func (d *Document) Query(selector string) string {
	if selector == "" {
		return d.raw
	}
	return strings.Join(d.QueryAll(selector), "")
}

func (d *Document) QueryAll(selector string) []string {
	var out []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err == nil {
			out = append(out, html)
		}
	})
	return out
}

// Text returns the text content of the matches.
func (d *Document) Text(selector string) string {
	return strings.TrimSpace(d.doc.Find(selector).Text())
}

func (d *Document) Method(name string) (types.Method, bool) {
	selectorArg := func(args []interface{}) string {
		if len(args) == 0 {
			return ""
		}
		s, _ := args[0].(string)
		return s
	}

	switch name {
	case "query":
		return func(_ context.Context, args ...interface{}) (interface{}, error) {
			return d.Query(selectorArg(args)), nil
		}, true
	case "queryAll":
		return func(_ context.Context, args ...interface{}) (interface{}, error) {
			return d.QueryAll(selectorArg(args)), nil
		}, true
	case "text":
		return func(_ context.Context, args ...interface{}) (interface{}, error) {
			return d.Text(selectorArg(args)), nil
		}, true
	}
	return nil, false
}
