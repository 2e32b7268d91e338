package manifest

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-fx/types"
)

func TestLoadFileYAMLSections(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/fx.yml", []byte(`
resources:
  api:
    users:
      type: api
      baseUrl: https://example.test
  docs:
    readme:
      type: raw
      path: README.md
routes:
  /users/:id:
    handler: users.get
    methods: [GET]
`), 0o644))

	doc, err := LoadFile(fs, "/app/fx.yml")
	require.NoError(t, err)

	users := doc.Resources["api"].(map[string]interface{})["users"].(map[string]interface{})
	assert.Equal(t, "api", users["type"])
	require.Contains(t, doc.Routes, "/users/:id")
	assert.Equal(t, "users.get", doc.Routes["/users/:id"].(map[string]interface{})["handler"])
}

func TestLoadFileJSONWholeTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/fx.json", []byte(`{"data":{"users":{"type":"json","path":"users.json"}}}`), 0o644))

	doc, err := LoadFile(fs, "/fx.json")
	require.NoError(t, err)

	assert.Nil(t, doc.Routes)
	assert.Contains(t, doc.Resources, "data")
}

func TestLoadFileErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.yml", []byte("resources: [1, 2]"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/fx.toml", []byte("a = 1"), 0o644))

	_, err := LoadFile(fs, "/missing.yml")
	assert.Error(t, err)

	_, err = LoadFile(fs, "/bad.yml")
	assert.ErrorIs(t, err, types.ErrInvalidManifestEntry)

	_, err = LoadFile(fs, "/fx.toml")
	assert.ErrorIs(t, err, types.ErrUnsupportedDataType)
}

func TestLoadedFileFeedsResolver(t *testing.T) {
	r, _ := newResolver(t, map[string]string{"/README.md": "# fx"})

	doc, err := Parse([]byte("docs:\n  readme:\n    type: raw\n    path: README.md\n"), ".yaml")
	require.NoError(t, err)
	require.NoError(t, r.Load(t.Context(), doc.Resources, ""))

	res, err := r.Registry().Resolve("docs.readme")
	require.NoError(t, err)
	v, err := res.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "# fx", v)
}
