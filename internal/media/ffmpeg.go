package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner invokes the transcoder with the given arguments.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// ExecRunner runs a local ffmpeg binary.
type ExecRunner struct {
	Binary string
}

func (r ExecRunner) binary() string {
	if r.Binary == "" {
		return "ffmpeg"
	}
	return r.Binary
}

func (r ExecRunner) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.binary(), append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg == "" {
			return fmt.Errorf("%s: %w", r.binary(), err)
		}
		return fmt.Errorf("%s: %w: %s", r.binary(), err, msg)
	}
	return nil
}

// Available reports whether the binary can be found on PATH.
func (r ExecRunner) Available() bool {
	_, err := exec.LookPath(r.binary())
	return err == nil
}
