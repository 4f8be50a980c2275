package daemonctl

import (
	"errors"
	"os/exec"
	"strings"

	"checkpilot/internal/config"
	"checkpilot/internal/ipc"
)

// StatusLine is one labelled readiness check for status output.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// BuildStatusSnapshot asks the daemon for its status. When the socket does not
// answer it returns an offline snapshot filled from configuration.
func BuildStatusSnapshot(socketPath string, cfg *config.Config) (*ipc.StatusResponse, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			return resp, nil
		}
	}
	return &ipc.StatusResponse{
		Primary:        cfg.Scheduler.Primary,
		ActiveBySource: map[string]int{},
		StatusCounts:   map[string]int{},
		LockFilePath:   cfg.Paths.LockPath,
		SocketPath:     socketPath,
		APIBind:        cfg.API.Bind,
	}, nil
}

// BuildSystemChecks resolves status lines that combine runtime state and config checks.
func BuildSystemChecks(cfg *config.Config, status *ipc.StatusResponse) []StatusLine {
	running := status != nil && status.Running
	lines := make([]StatusLine, 0, 5)
	if running {
		lines = append(lines, StatusLine{Label: "Checkpilot", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, StatusLine{Label: "Checkpilot", Severity: "warn", Detail: "Not running (run `checkpilot start`)"})
	}

	primary := cfg.Scheduler.Primary
	if running && status.Primary != "" {
		primary = status.Primary
	}
	lines = append(lines, StatusLine{Label: "Primary Backend", Severity: "info", Detail: primary})

	if primary == config.PrimaryProcess {
		lines = append(lines, workerCommandLine(cfg.Worker.Command))
	}

	if strings.TrimSpace(cfg.Remote.URL) != "" {
		lines = append(lines, StatusLine{Label: "NAS Endpoint", Severity: "ok", Detail: cfg.Remote.URL})
	} else {
		lines = append(lines, StatusLine{Label: "NAS Endpoint", Severity: "warn", Detail: "Not configured (deferred fallback only)"})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "ok", Detail: "Configured"})
	} else {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "warn", Detail: "Not configured"})
	}
	return lines
}

func workerCommandLine(command string) StatusLine {
	line := StatusLine{Label: "Worker Command"}
	command = strings.TrimSpace(command)
	if command == "" {
		line.Severity = "error"
		line.Detail = "worker.command is empty"
		return line
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		line.Severity = "error"
		line.Detail = command + " not found"
		return line
	}
	line.Severity = "ok"
	line.Detail = resolved
	return line
}
