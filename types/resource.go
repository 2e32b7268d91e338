package types

import "context"

type ResourceType string

const (
	ResourceAPI      ResourceType = "api"
	ResourceCSS      ResourceType = "css"
	ResourceHTML     ResourceType = "html"
	ResourceModule   ResourceType = "module"
	ResourceClass    ResourceType = "class"
	ResourceInstance ResourceType = "instance"
	ResourceFunction ResourceType = "function"
	ResourceJSON     ResourceType = "json"
	ResourceXML      ResourceType = "xml"
	ResourceYML      ResourceType = "yml"
	ResourceYAML     ResourceType = "yaml"
	ResourceData     ResourceType = "data"
	ResourceRaw      ResourceType = "raw"
	ResourceObject   ResourceType = "object"
	ResourceStatic   ResourceType = "static"
	ResourceMarkdown ResourceType = "markdown"
	ResourceImage    ResourceType = "image"
	ResourceStream   ResourceType = "stream"
	ResourceRoute    ResourceType = "route"
)

// ResourceConfig is a manifest leaf. Fields not listed here stay in Params.
type ResourceConfig struct {
	Type       ResourceType           `json:"type" yaml:"type" validate:"required"`
	Path       string                 `json:"path,omitempty" yaml:"path,omitempty"`
	BaseURL    string                 `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	File       string                 `json:"file,omitempty" yaml:"file,omitempty"`
	Dir        string                 `json:"dir,omitempty" yaml:"dir,omitempty"`
	Export     string                 `json:"export,omitempty" yaml:"export,omitempty"`
	Handler    interface{}            `json:"handler,omitempty" yaml:"handler,omitempty"`
	Methods    []string               `json:"methods,omitempty" yaml:"methods,omitempty"`
	Middleware []string               `json:"middleware,omitempty" yaml:"middleware,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty" yaml:"headers,omitempty"`
	Defer      bool                   `json:"defer,omitempty" yaml:"defer,omitempty"`
	Params     map[string]interface{} `json:"-" yaml:"-"`
}

func (c *ResourceConfig) Param(name string) (interface{}, bool) {
	if c.Params == nil {
		return nil, false
	}
	v, ok := c.Params[name]
	return v, ok
}

func (c *ResourceConfig) StringParam(name, def string) string {
	if v, ok := c.Param(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (c *ResourceConfig) BoolParam(name string) bool {
	if v, ok := c.Param(name); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

type Resource interface {
	Path() string
	Type() ResourceType
	Config() *ResourceConfig
	// Load is idempotent: every call after the first successful one returns
	// the memoized value.
	Load(ctx context.Context) (interface{}, error)
	Loaded() bool
}

// Method is an invokable member of a loaded resource value.
type Method func(ctx context.Context, args ...interface{}) (interface{}, error)

// MethodSet is implemented by loaded values that expose named methods.
type MethodSet interface {
	Method(name string) (Method, bool)
}

type ResourceRegistry interface {
	Define(path string, cfg *ResourceConfig) error
	Resolve(path string) (Resource, error)
	Lookup(path string) (Resource, bool)
	Definition(path string) (*ResourceConfig, bool)
	Paths() []string
}

// Manifest is a nested declaration tree. Values are sub-trees, leaf
// configs (maps carrying "type"), *ResourceConfig or producers.
type Manifest map[string]interface{}

// ManifestProducer lazily yields a sub-tree.
type ManifestProducer func(ctx context.Context) (interface{}, error)
