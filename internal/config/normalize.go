package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeScheduler()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockPath) == "" {
		c.Paths.LockPath = filepath.Join(c.Paths.StateDir, defaultLockName)
	}
	if c.Paths.LockPath, err = expandPath(c.Paths.LockPath); err != nil {
		return fmt.Errorf("paths.lock_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CHECKPILOT_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorker() error {
	c.Worker.Command = strings.TrimSpace(c.Worker.Command)
	if c.Worker.Command == "" {
		c.Worker.Command = defaultWorkerCommand
	}
	args := make([]string, 0, len(c.Worker.Args))
	for _, arg := range c.Worker.Args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.Worker.Args = args

	c.Worker.Dir = strings.TrimSpace(c.Worker.Dir)
	if c.Worker.Dir == "" {
		if value, ok := os.LookupEnv("CHECKPILOT_WORKER_DIR"); ok {
			c.Worker.Dir = strings.TrimSpace(value)
		}
	}
	if c.Worker.Dir != "" {
		var err error
		if c.Worker.Dir, err = expandPath(c.Worker.Dir); err != nil {
			return fmt.Errorf("worker.dir: %w", err)
		}
	}

	env := make(map[string]string, len(c.Worker.Env))
	for key, value := range c.Worker.Env {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		env[key] = value
	}
	c.Worker.Env = env
	if c.Worker.StopGraceSeconds <= 0 {
		c.Worker.StopGraceSeconds = defaultStopGraceSeconds
	}
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.URL = strings.TrimRight(strings.TrimSpace(c.Remote.URL), "/")
	if c.Remote.URL == "" {
		if value, ok := os.LookupEnv("NAS_API_URL"); ok {
			c.Remote.URL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = defaultRemoteTimeout
	}
	if c.Remote.DeferredDelaySeconds < 0 {
		c.Remote.DeferredDelaySeconds = defaultDeferredDelay
	}
	if c.Remote.DeferredHorizonHours <= 0 {
		c.Remote.DeferredHorizonHours = defaultDeferredHorizonHours
	}
}

func (c *Config) normalizeScheduler() {
	c.Scheduler.Primary = strings.ToLower(strings.TrimSpace(c.Scheduler.Primary))
	if c.Scheduler.Primary == "" {
		c.Scheduler.Primary = defaultPrimary
	}
	if c.Scheduler.MaxLogEntries <= 0 {
		c.Scheduler.MaxLogEntries = defaultMaxLogEntries
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
