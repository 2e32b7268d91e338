package resource

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/valyala/fasthttp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// FileServer answers requests from files under a directory, or from a single
// file. The requested name comes from the route parameter "filename"
// ("page" for markdown).
type FileServer struct {
	kind     types.ResourceType
	dir      string
	file     string
	index    string
	deps     *Deps
	markdown goldmark.Markdown
}

var _ types.Servable = (*FileServer)(nil)

func newFileResource(p string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(p, cfg, func(ctx context.Context) (interface{}, error) {
		if deps.Fetcher == nil {
			return nil, types.Errorf(types.ErrNotSupported, "%s resource %s needs a fetcher", cfg.Type, p)
		}

		server := &FileServer{
			kind:  cfg.Type,
			dir:   cfg.Dir,
			file:  cfg.File,
			index: cfg.StringParam("index", "index.html"),
			deps:  deps,
		}
		if cfg.Type == types.ResourceImage && cfg.File == "" {
			server.file = cfg.Path
		}
		if cfg.Type == types.ResourceMarkdown {
			server.markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
			server.index = cfg.StringParam("index", "index")
		}
		return server, nil
	})
}

func (s *FileServer) Handle(ctx *fasthttp.RequestCtx) {
	name, ok := s.target(ctx)
	if !ok {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "invalid path")
		return
	}

	content, err := s.deps.Fetcher.Fetch(ctx, name)
	if err != nil {
		s.fail(ctx, name, err)
		return
	}

	if s.kind == types.ResourceMarkdown {
		var buf bytes.Buffer
		if err := s.markdown.Convert(content.Body, &buf); err != nil {
			s.fail(ctx, name, err)
			return
		}
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetBody(buf.Bytes())
		return
	}

	ctx.SetContentType(contentType(name, content.Body))
	ctx.SetBody(content.Body)
}

// target maps the request onto a root-relative file name. Names that climb
// out of the directory are refused.
func (s *FileServer) target(ctx *fasthttp.RequestCtx) (string, bool) {
	if s.file != "" && s.dir == "" {
		return s.file, true
	}

	param := "filename"
	if s.kind == types.ResourceMarkdown {
		param = "page"
	}

	name, _ := ctx.UserValue(param).(string)
	if name == "" {
		name = s.index
	}
	if strings.Contains(name, "\x00") {
		return "", false
	}
	for _, segment := range strings.Split(strings.ReplaceAll(name, "\\", "/"), "/") {
		if segment == ".." {
			return "", false
		}
	}
	if s.kind == types.ResourceMarkdown && path.Ext(name) == "" {
		name += ".md"
	}

	return path.Join(s.dir, name), true
}

func (s *FileServer) fail(ctx *fasthttp.RequestCtx, name string, err error) {
	switch {
	case errors.Is(err, types.ErrResourceNotFound):
		utils.WriteError(ctx, fasthttp.StatusNotFound, "not found")
	case errors.Is(err, types.ErrPathOutsideRoot):
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "invalid path")
	default:
		if s.deps.Logger != nil {
			s.deps.Logger.Error("Failed to serve file", zap.String("file", name), zap.Error(err))
		}
		utils.CreateErrorResponse(ctx)
	}
}

func contentType(name string, body []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	}
	return mimetype.Detect(body).String()
}
