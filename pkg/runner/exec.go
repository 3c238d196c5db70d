package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"

	"github.com/jitbridge/jitbridge/pkg/types"
)

// runCommand executes the activation program for one job and maps its exit
// to an outcome. The process runs in its own process group so timeout and
// shutdown kills take helper processes down with it.
func (p *Pool) runCommand(ctx context.Context, job *types.Job) types.JobResult {
	result := types.JobResult{JobID: job.ID, UDID: job.UDID}

	if p.cfg.Preflight != nil {
		if err := p.cfg.Preflight(ctx, job); err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				result.Outcome = types.OutcomeTimedOut
			case errors.Is(ctx.Err(), context.Canceled):
				result.Outcome = types.OutcomeCancelled
			default:
				result.Outcome = types.OutcomeFailed
			}
			result.Error = err.Error()
			return result
		}
	}

	args := make([]string, 0, len(p.cfg.Args))
	for _, a := range p.cfg.Args {
		a = strings.ReplaceAll(a, "{udid}", job.UDID)
		a = strings.ReplaceAll(a, "{address}", job.Address.String())
		args = append(args, a)
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// SIGKILL the group; the worker cannot mask it, so the slot is
		// guaranteed back within WaitDelay even for a hung process
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = p.cfg.KillGrace

	err := cmd.Run()
	switch {
	case err == nil:
		result.Outcome = types.OutcomeSucceeded
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Outcome = types.OutcomeTimedOut
		result.Error = "deadline exceeded, worker killed"
	case errors.Is(ctx.Err(), context.Canceled):
		result.Outcome = types.OutcomeCancelled
		result.Error = "pool shutdown"
	default:
		// Crash and non-zero exit look the same from here: a failure
		// with whatever the worker said on stderr
		result.Outcome = types.OutcomeFailed
		result.Error = workerError(err, stderr.Bytes())
	}
	return result
}
