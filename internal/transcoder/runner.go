package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

const stderrTailBytes = 2048

// CommandRunner abstracts exec.CommandContext so tests can inject a stub.
type CommandRunner interface {
	// Run executes name with args and returns its stdout.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is the CommandRunner that shells out to the system. A positive
// Nice runs the command through nice(1) at that niceness.
type ExecRunner struct {
	Nice int
}

// Run executes name with args. The process is killed when ctx is done.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Nice > 0 {
		if nicePath, err := exec.LookPath("nice"); err == nil {
			args = append([]string{"-n", strconv.Itoa(r.Nice), name}, args...)
			name = nicePath
		}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, tail(stderr.Bytes(), stderrTailBytes))
	}
	return stdout.Bytes(), nil
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
