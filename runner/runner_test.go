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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Finatext/orgu/checkout"
	"github.com/Finatext/orgu/config"
	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/util/github"
)

type fakeGithub struct {
	mu          sync.Mutex
	createInput github.CreateCheckRunInput
	createCalls int
	createErr   error
	updates     []github.UpdateCheckRunInput
	updateErr   error
}

func (f *fakeGithub) CreateCheckRun(_ context.Context, _, _ string, input github.CreateCheckRunInput) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.createInput = input
	if f.createErr != nil {
		return 0, f.createErr
	}
	return 777, nil
}

func (f *fakeGithub) UpdateCheckRun(_ context.Context, _, _ string, checkRunID int64, input github.UpdateCheckRunInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if checkRunID != 777 {
		return fmt.Errorf("unexpected check run id: %d", checkRunID)
	}
	f.updates = append(f.updates, input)
	return f.updateErr
}

func (f *fakeGithub) GetCustomProperties(_ context.Context, _, _ string) (map[string]string, error) {
	return nil, nil
}

// terminal returns the completed updates; the dispatcher must produce
// exactly one.
func (f *fakeGithub) terminal(t *testing.T) github.UpdateCheckRunInput {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var terminals []github.UpdateCheckRunInput
	for _, u := range f.updates {
		if u.Status == params.CheckStatusCompleted {
			terminals = append(terminals, u)
		}
	}
	require.Len(t, terminals, 1)
	return terminals[0]
}

type fakeTokens struct {
	err error
}

func (f *fakeTokens) Token(_ context.Context, _ int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "ghs_token", nil
}

type fakeEngine struct {
	mu    sync.Mutex
	input checkout.Input
	err   error
}

func (f *fakeEngine) Checkout(_ context.Context, input checkout.Input) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = input
	if f.err != nil {
		return f.err
	}
	return os.MkdirAll(input.Dest, 0o755)
}

type fakeExecutor struct {
	mu     sync.Mutex
	input  JobInput
	result JobResult
	err    error
}

func (f *fakeExecutor) Run(_ context.Context, input JobInput) (JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = input
	return f.result, f.err
}

type dispatcherFixture struct {
	gh       *fakeGithub
	tokens   *fakeTokens
	engine   *fakeEngine
	executor *fakeExecutor
	d        *Dispatcher
	workDir  string
}

func newFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		gh:       &fakeGithub{},
		tokens:   &fakeTokens{},
		engine:   &fakeEngine{},
		executor: &fakeExecutor{result: JobResult{ExitCode: 0, Duration: time.Second, Output: "ok\n"}},
		workDir:  t.TempDir(),
	}
	cfg := config.Runner{
		WorkDir:         f.workDir,
		JobName:         "lint",
		Command:         []string{"make", "lint"},
		JobTimeout:      config.Duration(10 * time.Minute),
		CheckoutTimeout: config.Duration(10 * time.Minute),
	}
	f.d = NewDispatcher(cfg, f.gh, f.tokens, f.engine, f.executor)
	return f
}

func TestDispatchSuccess(t *testing.T) {
	f := newFixture(t)

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, f.gh.createCalls)
	assert.Equal(t, params.CheckStatusQueued, f.gh.createInput.Status)
	assert.Equal(t, "lint", f.gh.createInput.Name)
	assert.Equal(t, "3e4acdeffab33e45b36fbc0c41c3cb53b18f05c3", f.gh.createInput.HeadSHA)

	require.Len(t, f.gh.updates, 2)
	assert.Equal(t, params.CheckStatusInProgress, f.gh.updates[0].Status)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionSuccess, terminal.Conclusion)
	assert.Contains(t, terminal.Summary, "Command succeeded: `make lint`")
	assert.Contains(t, terminal.Summary, "req-1")
	assert.Contains(t, terminal.Text, "ok\n")

	// The job ran inside the scratch dir with the minted token.
	assert.Equal(t, "ghs_token", f.executor.input.Token)
	assert.True(t, filepath.IsAbs(f.executor.input.Dir))
	assert.Contains(t, f.executor.input.Dir, f.workDir)
}

func TestDispatchScratchDirRemoved(t *testing.T) {
	f := newFixture(t)

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch dirs must not survive a dispatch")
}

func TestDispatchInvalidRequest(t *testing.T) {
	f := newFixture(t)
	req := testJobRequest()
	req.Head.SHA = "not-a-sha"

	err := f.d.HandleCheckRequest(context.Background(), req)
	var badRequest *gErrors.BadRequestError
	require.ErrorAs(t, err, &badRequest)
	assert.Zero(t, f.gh.createCalls)
}

func TestDispatchCreateCheckRunFails(t *testing.T) {
	f := newFixture(t)
	f.gh.createErr = fmt.Errorf("boom")

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.Error(t, err)
	assert.Empty(t, f.gh.updates)
}

func TestDispatchInProgressUpdateFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.gh.updateErr = fmt.Errorf("flaky")

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	// The job still ran and a terminal update was attempted.
	assert.NotEmpty(t, f.executor.input.Dir)
	f.gh.terminal(t)
}

func TestDispatchTokenMintFails(t *testing.T) {
	f := newFixture(t)
	f.tokens.err = fmt.Errorf("no token")

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionFailure, terminal.Conclusion)
	assert.Equal(t, "Runner failed to handle event", terminal.Title)
	assert.Empty(t, f.engine.input.Dest, "checkout must not run without a token")
}

func TestDispatchCheckoutTimeout(t *testing.T) {
	f := newFixture(t)
	f.engine.err = &checkout.Error{Kind: checkout.KindTimeout, Err: context.DeadlineExceeded}

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionTimedOut, terminal.Conclusion)
	assert.Contains(t, terminal.Summary, "checkout timed out after 10m0s")
	assert.Empty(t, f.executor.input.Dir, "job must not run after checkout failure")
}

func TestDispatchCheckoutFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.err = &checkout.Error{Kind: checkout.KindAuth, Err: fmt.Errorf("authentication required")}

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionFailure, terminal.Conclusion)
	assert.Equal(t, "Checkout repository failed", terminal.Title)
}

func TestDispatchJobFails(t *testing.T) {
	f := newFixture(t)
	f.executor.result = JobResult{ExitCode: 2, Duration: time.Second, Output: "lint error\n"}

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionFailure, terminal.Conclusion)
	assert.Contains(t, terminal.Summary, "exit status: 2")
	assert.Contains(t, terminal.Text, "lint error")
}

func TestDispatchJobTimeout(t *testing.T) {
	f := newFixture(t)
	f.executor.result = JobResult{ExitCode: -1, TimedOut: true, Duration: 10 * time.Minute}

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionFailure, terminal.Conclusion)
	assert.Equal(t, "Running job timed out", terminal.Title)
	assert.Contains(t, terminal.Summary, "timed out")
}

func TestDispatchSpawnFailure(t *testing.T) {
	f := newFixture(t)
	f.executor.err = fmt.Errorf("spawning job command: no such file")

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	require.NoError(t, err)

	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionFailure, terminal.Conclusion)
	assert.Equal(t, "Runner failed to handle event", terminal.Title)
}

func TestDispatchTerminalUpdateFailureStillReturnsNil(t *testing.T) {
	f := newFixture(t)
	f.gh.updateErr = fmt.Errorf("github down")
	f.executor.result = JobResult{ExitCode: 1, Duration: time.Second}

	err := f.d.HandleCheckRequest(context.Background(), testJobRequest())
	assert.NoError(t, err)
}

func TestDispatchCanceledClientContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The dispatch detaches from the inbound request context.
	err := f.d.HandleCheckRequest(ctx, testJobRequest())
	require.NoError(t, err)
	terminal := f.gh.terminal(t)
	assert.Equal(t, params.CheckConclusionSuccess, terminal.Conclusion)
}
