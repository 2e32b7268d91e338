package resource

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

func newDataResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		src := source(cfg)
		content, err := deps.fetch(ctx, src)
		if err != nil {
			return nil, err
		}

		kind := cfg.Type
		if kind == types.ResourceData {
			kind = sniffDataType(src, content.ContentType)
		}
		return DecodeData(kind, content.Body)
	})
}

func sniffDataType(path, contentType string) types.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return types.ResourceJSON
	case ".xml":
		return types.ResourceXML
	case ".yml", ".yaml":
		return types.ResourceYAML
	}

	switch {
	case strings.Contains(contentType, "json"):
		return types.ResourceJSON
	case strings.Contains(contentType, "xml"):
		return types.ResourceXML
	case strings.Contains(contentType, "yaml"):
		return types.ResourceYAML
	}
	return types.ResourceData
}

// DecodeData parses body as kind. Kinds other than json, xml and yml/yaml
// fail with types.ErrUnsupportedDataType.
func DecodeData(kind types.ResourceType, body []byte) (interface{}, error) {
	switch kind {
	case types.ResourceJSON:
		var out interface{}
		if err := utils.Unmarshal(body, &out); err != nil {
			return nil, types.WrapError(err, "failed to decode json")
		}
		return out, nil
	case types.ResourceYML, types.ResourceYAML:
		var out interface{}
		if err := yaml.Unmarshal(body, &out); err != nil {
			return nil, types.WrapError(err, "failed to decode yaml")
		}
		return out, nil
	case types.ResourceXML:
		return DecodeXML(body)
	}
	return nil, types.Errorf(types.ErrUnsupportedDataType, "%s", kind)
}

// XMLNode is a generic element tree.
type XMLNode struct {
	Name     string            `json:"name"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []*XMLNode        `json:"children,omitempty"`
}

// Find returns the direct children named name.
func (n *XMLNode) Find(name string) []*XMLNode {
	var out []*XMLNode
	for _, child := range n.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

func DecodeXML(body []byte) (*XMLNode, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var root *XMLNode
	var stack []*XMLNode

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, types.WrapError(err, "failed to decode xml")
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &XMLNode{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, attr := range t.Attr {
					node.Attrs[attr.Name.Local] = attr.Value
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				if text := strings.TrimSpace(string(t)); text != "" {
					stack[len(stack)-1].Text += text
				}
			}
		}
	}

	if root == nil {
		return nil, types.Errorf(types.ErrUnsupportedDataType, "xml document has no root element")
	}
	return root, nil
}

func newRawResource(path string, cfg *types.ResourceConfig, deps *Deps) types.Resource {
	return newBase(path, cfg, func(ctx context.Context) (interface{}, error) {
		content, err := deps.fetch(ctx, source(cfg))
		if err != nil {
			return nil, err
		}
		return string(content.Body), nil
	})
}

// object resources load to their own extra manifest fields.
func newObjectResource(path string, cfg *types.ResourceConfig) types.Resource {
	return newBase(path, cfg, func(context.Context) (interface{}, error) {
		out := make(map[string]interface{}, len(cfg.Params))
		for k, v := range cfg.Params {
			out[k] = v
		}
		return out, nil
	})
}
