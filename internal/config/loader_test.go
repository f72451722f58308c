package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
vendor:
  entrypoint: /opt/vendor/start.sh
  servicePorts: [8020]
`

func TestLoadConfigFromReaderDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "127.0.0.1", cfg.Vendor.Host)
	assert.Equal(t, 10*time.Minute, cfg.Vendor.StartupTimeout.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Proxy.RequestTimeout.Duration())
	assert.Equal(t, []string{"speaker_name", "speaker_wav"}, cfg.Silo.Fields)
	assert.Equal(t, "silo_id", cfg.Silo.QueryParam)
	assert.Equal(t, "X-Silo-ID", cfg.Silo.Header)
	assert.Equal(t, DefaultManifestInlineEnv, cfg.Manifest.InlineEnv)
	assert.Equal(t, 8020, cfg.DefaultServicePort())
}

func TestLoadConfigFullDocument(t *testing.T) {
	t.Parallel()

	doc := `
server:
  address: ":9000"
  shutdownTimeout: 10s
vendor:
  label: tts
  entrypoint: /opt/tts/start.sh
  image: registry.local/tts:latest
  servicePorts: [8020, 8021]
  auxiliaryPorts: [8030]
  env:
    keys: [HF_TOKEN]
    prefixes: [TTS_]
  startupTimeout: 2m
  softFail: true
manifest:
  path: /opt/tts/routes.json
  watch: true
  staticRoutes:
    - path: /voices
      method: GET
      port: 8020
routes:
  - path: /speak
    method: POST
    port: 8020
    encoding: multipart
    responseContentType: audio/wav
  - path: /transcribe
    method: POST
    port: 8030
    targetPath: /v1/transcribe
    encoding: json
proxy:
  requestTimeout: 3m
  circuitBreaker:
    enabled: true
    threshold: 3
    timeout: 15s
`
	cfg, err := LoadConfigFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.True(t, cfg.Vendor.SoftFail)
	assert.Equal(t, []int{8020, 8021, 8030}, cfg.AllPorts())
	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, EncodingMultipart, cfg.Routes[0].NormalizedEncoding())
	assert.Equal(t, "audio/wav", cfg.Routes[0].ResponseContentType)
	assert.Equal(t, "/v1/transcribe", cfg.Routes[1].Target())
	assert.True(t, cfg.Proxy.CircuitBreaker.Enabled)
	assert.Equal(t, 3*time.Minute, cfg.Proxy.RequestTimeout.Duration())
	require.Len(t, cfg.Manifest.StaticRoutes, 1)
	assert.True(t, cfg.Manifest.Watch)
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_VENDOR_PORT", "9123")

	doc := `
vendor:
  entrypoint: ${TEST_VENDOR_ENTRYPOINT:-/opt/vendor/start.sh}
  servicePorts: [${TEST_VENDOR_PORT}]
`
	cfg, err := LoadConfigFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "/opt/vendor/start.sh", cfg.Vendor.Entrypoint)
	assert.Equal(t, []int{9123}, cfg.Vendor.ServicePorts)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing service ports",
			doc: `
vendor:
  entrypoint: /opt/vendor/start.sh
`,
			want: "servicePorts",
		},
		{
			name: "neither entrypoint nor image",
			doc: `
vendor:
  servicePorts: [8020]
`,
			want: "entrypoint or a container image",
		},
		{
			name: "route path without leading slash",
			doc: minimalConfig + `
routes:
  - path: speak
    method: POST
`,
			want: "must start with /",
		},
		{
			name: "unknown encoding",
			doc: minimalConfig + `
routes:
  - path: /speak
    method: POST
    encoding: xml
`,
			want: "unknown encoding",
		},
		{
			name: "invalid vendor port",
			doc: `
vendor:
  entrypoint: /opt/vendor/start.sh
  servicePorts: [99999]
`,
			want: "invalid vendor port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfigFromReader(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRouteEntryNormalization(t *testing.T) {
	t.Parallel()

	entry := RouteEntry{Path: "/voices"}
	assert.Equal(t, "GET", entry.NormalizedMethod())
	assert.Equal(t, "/voices", entry.Target())
	assert.Equal(t, "GET /voices", entry.Key())

	entry = RouteEntry{Path: "/speak", Method: "post", TargetPath: "/tts"}
	assert.Equal(t, "POST", entry.NormalizedMethod())
	assert.Equal(t, "/tts", entry.Target())
}
