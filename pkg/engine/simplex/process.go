package simplex

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
)

// process is a simplex-chat CLI launched by the bridge.
type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	log    *slog.Logger
}

// cliArgs builds the CLI arguments for serving the websocket API on the
// port named in wsURL.
func cliArgs(wsURL, dbPrefix, dbKey string) ([]string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("simplex url %q: %w", wsURL, err)
	}
	port := u.Port()
	if port == "" {
		return nil, fmt.Errorf("simplex url %q has no port", wsURL)
	}

	args := []string{"-p", port}
	if dbPrefix != "" {
		args = append(args, "-d", dbPrefix)
	}
	if dbKey != "" {
		args = append(args, "--key", dbKey)
	}
	return args, nil
}

func startProcess(path, wsURL, dbPrefix, dbKey string, log *slog.Logger) (*process, error) {
	args, err := cliArgs(wsURL, dbPrefix, dbKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start simplex cli %s: %w", path, err)
	}

	log.Info("Started SimpleX CLI", "path", path, "pid", cmd.Process.Pid)
	return &process{cmd: cmd, cancel: cancel, log: log}, nil
}

// stop kills the child and reaps it. Safe on a nil process.
func (p *process) stop() {
	if p == nil {
		return
	}
	p.cancel()
	if err := p.cmd.Wait(); err != nil {
		p.log.Debug("SimpleX CLI exited", "error", err)
	}
}
