package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elbios/vendorgw/internal/config"
	"github.com/elbios/vendorgw/internal/observability"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "plain list",
			input: `[{"path":"/speak","method":"POST","port":8020}]`,
			want:  1,
		},
		{
			name:  "object with routes key",
			input: `{"routes":[{"path":"/speak","method":"POST"},{"path":"/voices"}]}`,
			want:  2,
		},
		{
			name:  "empty list",
			input: `[]`,
			want:  0,
		},
		{
			name:    "object without routes key",
			input:   `{"paths":[]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `port: 8020`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			routes, err := ParseRoutes([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrManifestParse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, routes, tt.want)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeManifest(t, `[{"path":"/speak","method":"POST","port":8020},{"path":"/voices","method":"GET"}]`)

	m, err := Load(LoadOptions{Path: path, Logger: observability.NopLogger()})
	require.NoError(t, err)
	assert.Len(t, m.Routes, 2)
	assert.Equal(t, path, m.Source)
}

func TestLoadInlineEnvTakesPriority(t *testing.T) {
	path := writeManifest(t, `[{"path":"/from-file","method":"GET"}]`)
	t.Setenv("TEST_MANIFEST_JSON", `[{"path":"/from-env","method":"GET"}]`)

	m, err := Load(LoadOptions{
		InlineEnv: "TEST_MANIFEST_JSON",
		Path:      path,
		Logger:    observability.NopLogger(),
	})
	require.NoError(t, err)
	require.Len(t, m.Routes, 1)
	assert.Equal(t, "/from-env", m.Routes[0].Path)
	assert.Equal(t, "env:TEST_MANIFEST_JSON", m.Source)
}

func TestLoadPathEnvOverridesConfiguredPath(t *testing.T) {
	configured := writeManifest(t, `[{"path":"/configured","method":"GET"}]`)
	override := writeManifest(t, `[{"path":"/override","method":"GET"}]`)
	t.Setenv("TEST_MANIFEST_PATH", override)

	m, err := Load(LoadOptions{
		PathEnv: "TEST_MANIFEST_PATH",
		Path:    configured,
		Logger:  observability.NopLogger(),
	})
	require.NoError(t, err)
	require.Len(t, m.Routes, 1)
	assert.Equal(t, "/override", m.Routes[0].Path)
}

func TestLoadSkipEnv(t *testing.T) {
	t.Setenv("TEST_MANIFEST_SKIP", "1")

	m, err := Load(LoadOptions{
		SkipEnv:      "TEST_MANIFEST_SKIP",
		StaticRoutes: []config.RouteEntry{{Path: "/speak", Method: "POST"}},
		Logger:       observability.NopLogger(),
	})
	require.NoError(t, err)
	assert.Empty(t, m.Routes)
	assert.Equal(t, "skipped", m.Source)
}

func TestLoadMissingManifest(t *testing.T) {
	t.Parallel()

	t.Run("fatal without static routes", func(t *testing.T) {
		t.Parallel()
		_, err := Load(LoadOptions{
			Path:   filepath.Join(t.TempDir(), "absent.json"),
			Logger: observability.NopLogger(),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrManifestMissing)
	})

	t.Run("static routes stand in for a missing file", func(t *testing.T) {
		t.Parallel()
		m, err := Load(LoadOptions{
			Path:         filepath.Join(t.TempDir(), "absent.json"),
			StaticRoutes: []config.RouteEntry{{Path: "/speak", Method: "POST", Port: 8020}},
			Logger:       observability.NopLogger(),
		})
		require.NoError(t, err)
		require.Len(t, m.Routes, 1)
		assert.Equal(t, "/speak", m.Routes[0].Path)
	})
}

func TestMergeDiscoveredWins(t *testing.T) {
	t.Parallel()

	discovered := []config.RouteEntry{
		{Path: "/speak", Method: "POST", Port: 8020},
	}
	static := []config.RouteEntry{
		{Path: "/speak", Method: "POST", Port: 9999},
		{Path: "/extra", Method: "GET", Port: 8020},
	}

	m := merge(discovered, static, observability.NopLogger())

	require.Len(t, m.Routes, 2)
	assert.Equal(t, 8020, m.Routes[0].Port)
	assert.Equal(t, "/extra", m.Routes[1].Path)
	assert.Equal(t, 1, m.Conflicts)
	assert.Equal(t, 0, m.Duplicates)
}

func TestMergeIdenticalDuplicatesAreCounted(t *testing.T) {
	t.Parallel()

	route := config.RouteEntry{Path: "/speak", Method: "POST", Port: 8020}
	m := merge([]config.RouteEntry{route}, []config.RouteEntry{route}, observability.NopLogger())

	assert.Len(t, m.Routes, 1)
	assert.Equal(t, 0, m.Conflicts)
	assert.Equal(t, 1, m.Duplicates)
}

func TestMergeIsDeterministic(t *testing.T) {
	t.Parallel()

	discovered := []config.RouteEntry{
		{Path: "/a", Method: "GET", Port: 1},
		{Path: "/a", Method: "GET", Port: 2},
		{Path: "/b", Method: "GET", Port: 3},
	}

	first := merge(discovered, nil, observability.NopLogger())
	second := merge(discovered, nil, observability.NopLogger())

	// First-seen wins among discovered duplicates, every time.
	require.Len(t, first.Routes, 2)
	assert.Equal(t, 1, first.Routes[0].Port)
	assert.Equal(t, first.Routes, second.Routes)
}

func TestMergeMethodsDistinguishRoutes(t *testing.T) {
	t.Parallel()

	discovered := []config.RouteEntry{
		{Path: "/speak", Method: "GET", Port: 8020},
		{Path: "/speak", Method: "POST", Port: 8020},
	}
	m := merge(discovered, nil, observability.NopLogger())
	assert.Len(t, m.Routes, 2)
}
