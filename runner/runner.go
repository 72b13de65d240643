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

// Package runner dispatches check requests: it owns the check-run
// lifecycle around a single job execution.
package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/Finatext/orgu/checkout"
	"github.com/Finatext/orgu/config"
	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/metrics"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/util/github"
)

type Dispatcher struct {
	cfg      config.Runner
	ghCli    github.Client
	tokens   github.TokenProvider
	engine   checkout.Engine
	executor JobExecutor
}

func NewDispatcher(cfg config.Runner, ghCli github.Client, tokens github.TokenProvider, engine checkout.Engine, executor JobExecutor) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		ghCli:    ghCli,
		tokens:   tokens,
		engine:   engine,
		executor: executor,
	}
}

// HandleCheckRequest runs one dispatch end to end. A non-nil error means
// no check run was opened and the caller should NACK; once a check run
// exists every outcome is reported through it and the return is nil.
func (d *Dispatcher) HandleCheckRequest(ctx context.Context, req params.CheckRequest) error {
	// A disconnecting client must not abort a running job; the dispatch
	// has its own timeouts.
	ctx = context.WithoutCancel(ctx)

	if err := req.Validate(); err != nil {
		return gErrors.NewBadRequestError("invalid check request: %s", err)
	}
	owner, repo := req.Repository.Owner, req.Repository.Name

	title, summary := queuedOutput(req, d.cfg.Command)
	checkRunID, err := d.ghCli.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunInput{
		Name:    d.cfg.JobName,
		HeadSHA: req.Head.SHA,
		Status:  params.CheckStatusQueued,
		Title:   title,
		Summary: summary,
	})
	if err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to create check run", "repo", req.Repository.FullName, "sha", req.Head.SHA)
		return errors.Wrap(err, "creating check run")
	}

	// Exactly one terminal update per dispatch.
	finished := false
	finish := func(update github.UpdateCheckRunInput) {
		if finished {
			return
		}
		finished = true
		update.Name = d.cfg.JobName
		metrics.DispatchCount.WithLabelValues(string(update.Conclusion)).Inc()
		if err := d.ghCli.UpdateCheckRun(ctx, owner, repo, checkRunID, update); err != nil {
			slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to close check run", "check_run_id", checkRunID, "conclusion", string(update.Conclusion))
		}
	}

	if err := d.ghCli.UpdateCheckRun(ctx, owner, repo, checkRunID, inProgressUpdate(req, d.cfg.JobName, d.cfg.Command)); err != nil {
		slog.With(slog.Any("error", err)).WarnContext(ctx, "failed to mark check run in_progress", "check_run_id", checkRunID)
	}

	token, err := d.tokens.Token(ctx, req.InstallationID)
	if err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to mint installation token", "installation_id", req.InstallationID)
		finish(dispatchFailedUpdate(req, err))
		return nil
	}

	scratch, err := os.MkdirTemp(d.cfg.WorkDir, "orgu-job-*")
	if err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to create scratch dir", "work_dir", d.cfg.WorkDir)
		finish(dispatchFailedUpdate(req, err))
		return nil
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to remove scratch dir", "scratch", scratch)
		}
	}()

	dest := filepath.Join(scratch, "src")
	if err := d.checkoutHead(ctx, req, token, dest); err != nil {
		var checkoutErr *checkout.Error
		if errors.As(err, &checkoutErr) && checkoutErr.Kind == checkout.KindTimeout {
			finish(checkoutTimedOutUpdate(req, d.cfg.CheckoutTimeout.Std()))
		} else {
			finish(checkoutFailedUpdate(req, err))
		}
		return nil
	}

	result, err := d.executor.Run(ctx, JobInput{Dir: dest, Token: token, Request: req})
	if err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to spawn job")
		finish(dispatchFailedUpdate(req, err))
		return nil
	}
	metrics.JobDuration.WithLabelValues(conclusionFor(result)).Observe(result.Duration.Seconds())

	switch {
	case result.TimedOut:
		slog.WarnContext(ctx, "job timed out", "timeout", d.cfg.JobTimeout.String(), "repo", req.Repository.FullName)
		finish(jobTimedOutUpdate(req, d.cfg.Command, d.cfg.JobTimeout.Std(), result))
	case result.ExitCode == 0:
		finish(jobSucceededUpdate(req, d.cfg.Command, result))
	default:
		finish(jobFailedUpdate(req, d.cfg.Command, result))
	}
	return nil
}

func (d *Dispatcher) checkoutHead(ctx context.Context, req params.CheckRequest, token, dest string) error {
	input := checkout.Input{
		Owner:   req.Repository.Owner,
		Repo:    req.Repository.Name,
		HeadSHA: req.Head.SHA,
		Token:   token,
		Dest:    dest,
	}
	if req.Base != nil {
		input.BaseSHA = req.Base.SHA
	}
	if err := d.engine.Checkout(ctx, input); err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "checkout failed", "repo", req.Repository.FullName, "sha", req.Head.SHA)
		return err
	}
	return nil
}

func conclusionFor(result JobResult) string {
	switch {
	case result.TimedOut:
		return string(params.CheckConclusionTimedOut)
	case result.ExitCode == 0:
		return string(params.CheckConclusionSuccess)
	default:
		return string(params.CheckConclusionFailure)
	}
}
