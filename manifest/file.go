package manifest

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

// Document is a manifest file. Files without a resources or routes section
// are read entirely as the resource tree.
type Document struct {
	Resources types.Manifest
	Routes    map[string]interface{}
}

// LoadFile reads a YAML or JSON manifest; the extension picks the format.
func LoadFile(fs afero.Fs, path string) (*Document, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, types.WrapError(err, "failed to read manifest "+path)
	}

	return Parse(data, filepath.Ext(path))
}

func Parse(data []byte, ext string) (*Document, error) {
	raw := make(map[string]interface{})

	switch strings.ToLower(ext) {
	case ".json":
		if err := utils.Unmarshal(data, &raw); err != nil {
			return nil, types.Errorf(types.ErrInvalidManifestEntry, "json: %v", err)
		}
	case ".yml", ".yaml", "":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, types.Errorf(types.ErrInvalidManifestEntry, "yaml: %v", err)
		}
	default:
		return nil, types.Errorf(types.ErrUnsupportedDataType, "manifest format %s", ext)
	}

	resources, hasResources := raw["resources"]
	routes, hasRoutes := raw["routes"]
	if !hasResources && !hasRoutes {
		return &Document{Resources: raw}, nil
	}

	doc := &Document{}
	if hasResources && resources != nil {
		tree, ok := resources.(map[string]interface{})
		if !ok {
			return nil, types.Errorf(types.ErrInvalidManifestEntry, "resources must be a mapping")
		}
		doc.Resources = tree
	}
	if hasRoutes && routes != nil {
		table, ok := routes.(map[string]interface{})
		if !ok {
			return nil, types.Errorf(types.ErrInvalidManifestEntry, "routes must be a mapping")
		}
		doc.Routes = table
	}
	return doc, nil
}
