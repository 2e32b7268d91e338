// Package fetch loads resource sources from the local tree or over HTTP.
package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/types"
)

type Content struct {
	Path        string
	ContentType string
	Body        []byte
	ModTime     time.Time
}

type cachedFile struct {
	content *Content
	size    int64
}

// Fetcher reads files below a root directory. With caching on, a file is
// re-read only when its modification time or size changed since the last
// read. http(s) paths go through the client manager and are never cached here.
type Fetcher struct {
	fs     afero.Fs
	root   string
	cache  bool
	client types.ClientManager
	logger types.Logger
	files  map[string]cachedFile
	mu     sync.RWMutex
}

func NewFetcher(fs afero.Fs, config *types.FetchConfig, client types.ClientManager, logger types.Logger) *Fetcher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if config == nil {
		config = &types.FetchConfig{Root: ".", Cache: true}
	}

	root := config.Root
	if root == "" {
		root = "."
	}

	return &Fetcher{
		fs:     fs,
		root:   filepath.Clean(root),
		cache:  config.Cache,
		client: client,
		logger: logger,
		files:  make(map[string]cachedFile),
	}
}

func (f *Fetcher) Fs() afero.Fs {
	return f.fs
}

func (f *Fetcher) Root() string {
	return f.root
}

func IsRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// Resolve maps a path relative to the root onto the filesystem and rejects
// anything that escapes the root.
func (f *Fetcher) Resolve(path string) (string, error) {
	joined := filepath.Join(f.root, filepath.FromSlash(path))

	rel, err := filepath.Rel(f.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", types.Errorf(types.ErrPathOutsideRoot, "%s", path)
	}

	return joined, nil
}

func (f *Fetcher) Fetch(ctx context.Context, path string) (*Content, error) {
	if IsRemote(path) {
		return f.fetchRemote(ctx, path)
	}

	full, err := f.Resolve(path)
	if err != nil {
		return nil, err
	}

	return f.readFileWithCache(full)
}

func (f *Fetcher) readFileWithCache(full string) (*Content, error) {
	info, err := f.fs.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.Errorf(types.ErrResourceNotFound, "%s", full)
		}
		return nil, types.Errorf(types.ErrFetchFailed, "stat %s: %v", full, err)
	}
	if info.IsDir() {
		return nil, types.Errorf(types.ErrFetchFailed, "%s is a directory", full)
	}

	if f.cache {
		f.mu.RLock()
		cached, ok := f.files[full]
		f.mu.RUnlock()

		if ok && cached.content.ModTime.Equal(info.ModTime()) && cached.size == info.Size() {
			return cached.content, nil
		}
	}

	body, err := afero.ReadFile(f.fs, full)
	if err != nil {
		return nil, types.Errorf(types.ErrFetchFailed, "read %s: %v", full, err)
	}

	content := &Content{
		Path:        full,
		ContentType: mimetype.Detect(body).String(),
		Body:        body,
		ModTime:     info.ModTime(),
	}

	if f.cache {
		f.mu.Lock()
		f.files[full] = cachedFile{content: content, size: info.Size()}
		f.mu.Unlock()
	}

	return content, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) (*Content, error) {
	if f.client == nil {
		return nil, types.Errorf(types.ErrNotSupported, "remote fetch of %s without client", url)
	}

	resp, err := f.client.Do(ctx, "GET", url, nil, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrFetchFailed, "%s: %v", url, err)
	}
	if resp.StatusCode == 404 {
		return nil, types.Errorf(types.ErrResourceNotFound, "%s", url)
	}
	if resp.StatusCode >= 400 {
		return nil, types.Errorf(types.ErrHTTPStatus, "%s: %d", url, resp.StatusCode)
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(resp.Body).String()
	}

	return &Content{Path: url, ContentType: contentType, Body: resp.Body}, nil
}

// Invalidate drops the cached copy of path (root-relative or already resolved).
func (f *Fetcher) Invalidate(path string) {
	keys := []string{filepath.Clean(path)}
	if full, err := f.Resolve(path); err == nil {
		keys = append(keys, full)
	}

	f.mu.Lock()
	for _, key := range keys {
		delete(f.files, key)
	}
	f.mu.Unlock()

	f.logger.Debug("File cache invalidated", zap.String("path", path))
}

func (f *Fetcher) InvalidateAll() {
	f.mu.Lock()
	f.files = make(map[string]cachedFile)
	f.mu.Unlock()
}

func (f *Fetcher) Cached() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.files)
}
