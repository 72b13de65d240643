// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/Finatext/orgu/config"
	"github.com/Finatext/orgu/params"
)

// killGrace is how long a timed-out job gets between SIGTERM and
// SIGKILL.
const killGrace = 10 * time.Second

// JobInput is one job execution: the checked-out tree plus the request
// that caused it.
type JobInput struct {
	Dir     string
	Token   string
	Request params.CheckRequest
}

type JobResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	// Output is the retained tail of the combined stdout/stderr.
	Output          string
	OutputTruncated bool
}

// JobExecutor runs the user job. An error return means the job never
// ran; job failures come back in JobResult.
type JobExecutor interface {
	Run(ctx context.Context, input JobInput) (JobResult, error)
}

// CommandExecutor runs the configured argv without a shell.
type CommandExecutor struct {
	cfg config.Runner
	// logOutput mirrors the job output into the runner's own stream.
	logOutput io.Writer
}

func NewCommandExecutor(cfg config.Runner) *CommandExecutor {
	return &CommandExecutor{cfg: cfg, logOutput: os.Stdout}
}

func (e *CommandExecutor) Run(ctx context.Context, input JobInput) (JobResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout.Std())
	defer cancel()

	tail := NewTailBuffer(DefaultTailSize)
	output := io.MultiWriter(tail, e.logOutput)

	cmd := exec.CommandContext(ctx, e.cfg.Command[0], e.cfg.Command[1:]...)
	cmd.Dir = input.Dir
	cmd.Env = buildJobEnv(e.cfg, input.Request, input.Token)
	cmd.Stdout = output
	cmd.Stderr = output
	// On timeout the job gets SIGTERM and killGrace to shut down; the
	// whole wait is bounded even if the child ignores the signal.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	timedOut := ctx.Err() == context.DeadlineExceeded

	result := JobResult{
		TimedOut:        timedOut,
		Duration:        duration,
		Output:          tail.String(),
		OutputTruncated: tail.Truncated(),
	}
	if err == nil {
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Signal deaths report a negative code; the summary shows the
		// wait status as-is.
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if timedOut {
		// The deadline fired before the process even started.
		result.ExitCode = -1
		return result, nil
	}
	return JobResult{}, errors.Wrapf(err, "spawning job command %q", e.cfg.Command[0])
}

// buildJobEnv assembles the job environment from scratch. Nothing from
// the runner's own environment leaks through except PATH and the
// explicit pass-through list.
func buildJobEnv(cfg config.Runner, req params.CheckRequest, token string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GITHUB_TOKEN=" + token,
		"JOB_NAME=" + cfg.JobName,
		"ORGU_EVENT_NAME=" + req.EventName,
		"ORGU_ACTION=" + req.Action,
		"ORGU_REPO=" + req.Repository.FullName,
		"ORGU_REPO_OWNER=" + req.Repository.Owner,
		"ORGU_REPO_NAME=" + req.Repository.Name,
		"ORGU_HEAD_SHA=" + req.Head.SHA,
		"ORGU_HEAD_REF=" + req.Head.Ref,
		"ORGU_SENDER=" + req.Sender.Login,
		"ORGU_REQUEST_ID=" + req.RequestID,
		"ORGU_DELIVERY_ID=" + req.DeliveryID,
	}
	if req.Base != nil {
		env = append(env,
			"ORGU_BASE_SHA="+req.Base.SHA,
			"ORGU_BASE_REF="+req.Base.Ref,
		)
	}
	if req.PullRequest != nil {
		env = append(env, "ORGU_PR_NUMBER="+strconv.FormatInt(req.PullRequest.Number, 10))
	}
	for key, value := range req.Repository.CustomProperties {
		env = append(env, fmt.Sprintf("CUSTOM_PROP_%s=%s", strings.ToUpper(key), value))
	}
	for _, name := range cfg.PassEnv {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		} else {
			slog.Warn("pass-through env var not set", "name", name)
		}
	}
	return env
}
