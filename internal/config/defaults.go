package config

const (
	defaultConfigPath           = "~/.config/checkpilot/config.toml"
	defaultStateDir             = "~/.local/share/checkpilot"
	defaultLogDir               = "~/.local/share/checkpilot/logs"
	defaultSocketName           = "checkpilot.sock"
	defaultLockName             = "checkpilotd.lock"
	defaultAPIBind              = "127.0.0.1:7487"
	defaultWorkerCommand        = "python3"
	defaultWorkerScript         = "southwest.py"
	defaultStopGraceSeconds     = 10
	defaultRemoteTimeout        = 10
	defaultDeferredDelay        = 1
	defaultDeferredHorizonHours = 24
	defaultPrimary              = PrimaryProcess
	defaultMaxLogEntries        = 500
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

const (
	// PrimaryProcess launches the local worker and falls back to the remote executor.
	PrimaryProcess = "process"
	// PrimaryRemote hands every request to the remote executor.
	PrimaryRemote = "remote"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Worker: Worker{
			Command: defaultWorkerCommand,
			Args:    []string{defaultWorkerScript},
			Env: map[string]string{
				"AUTO_SOUTHWEST_CHECK_IN_CHECK_FARES": "false",
			},
			StopGraceSeconds: defaultStopGraceSeconds,
		},
		Remote: Remote{
			TimeoutSeconds:       defaultRemoteTimeout,
			DeferredDelaySeconds: defaultDeferredDelay,
			DeferredHorizonHours: defaultDeferredHorizonHours,
		},
		Scheduler: Scheduler{
			Primary:       defaultPrimary,
			MaxLogEntries: defaultMaxLogEntries,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Failed:         true,
			Fallback:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
