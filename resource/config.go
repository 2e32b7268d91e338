package resource

import (
	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

var knownFields = map[string]struct{}{
	"type": {}, "path": {}, "baseUrl": {}, "file": {}, "dir": {}, "export": {},
	"handler": {}, "methods": {}, "middleware": {}, "headers": {}, "defer": {},
}

// IsLeaf reports whether a manifest node declares a resource.
func IsLeaf(node map[string]interface{}) bool {
	t, ok := node["type"].(string)
	return ok && t != ""
}

// ConfigFromMap decodes a manifest leaf. Fields the config does not name are
// kept in Params.
func ConfigFromMap(path string, node map[string]interface{}) (*types.ResourceConfig, error) {
	cfg := &types.ResourceConfig{}
	if err := utils.UnmarshalConfig(node, cfg); err != nil {
		return nil, &types.InvalidManifestEntryError{Path: path, Reason: err.Error()}
	}

	for k, v := range node {
		if _, known := knownFields[k]; known {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = make(map[string]interface{})
		}
		cfg.Params[k] = v
	}
	return cfg, nil
}
