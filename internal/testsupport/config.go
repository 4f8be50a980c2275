package testsupport

import (
	"path/filepath"
	"testing"

	"checkpilot/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The HTTP API binds an ephemeral loopback port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "state", "checkpilot.sock")
	cfgVal.Paths.LockPath = filepath.Join(base, "state", "checkpilotd.lock")
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return builder.cfg
}

// WithPrimary selects the primary backend.
func WithPrimary(primary string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.Primary = primary
	}
}

// WithRemoteURL points the remote executor at a NAS endpoint.
func WithRemoteURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.URL = url
	}
}

// WithAPIBind overrides the HTTP listen address. An empty bind disables the API.
func WithAPIBind(bind string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Bind = bind
	}
}

// WithStubbedWorker writes body as an executable shell script and makes it
// the worker command. The script receives CONFIRMATION FIRST LAST as $1..$3.
func WithStubbedWorker(body string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "bin", "worker.sh")
		WriteScript(b.t, path, body)
		b.cfg.Worker.Command = path
		b.cfg.Worker.Args = nil
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
