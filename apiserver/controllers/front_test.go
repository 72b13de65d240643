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

package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Finatext/orgu/auth"
	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/events"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/util/github"
)

const (
	testSecret  = "test-secret"
	testHeadSHA = "3e4acdeffab33e45b36fbc0c41c3cb53b18f05c3"
	testBaseSHA = "5c2a1b2ff996372cbec2ec69f60732b5c4a9b72c"
)

type fakeQueue struct {
	mu   sync.Mutex
	sent []params.CheckRequest
	err  error
}

func (f *fakeQueue) Send(_ context.Context, req params.CheckRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeQueue) Sink() string {
	return "fake"
}

type fakeChecks struct {
	mu        sync.Mutex
	created   []github.CreateCheckRunInput
	updated   []github.UpdateCheckRunInput
	createErr error
}

func (f *fakeChecks) CreateCheckRun(_ context.Context, _, _ string, input github.CreateCheckRunInput) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, input)
	return 99, nil
}

func (f *fakeChecks) UpdateCheckRun(_ context.Context, _, _ string, _ int64, input github.UpdateCheckRunInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, input)
	return nil
}

func (f *fakeChecks) GetCustomProperties(_ context.Context, _, _ string) (map[string]string, error) {
	return nil, nil
}

type frontFixture struct {
	queue  *fakeQueue
	checks *fakeChecks
	han    *FrontController
}

func newFrontFixture() *frontFixture {
	f := &frontFixture{
		queue:  &fakeQueue{},
		checks: &fakeChecks{},
	}
	canonicalizer := events.NewCanonicalizer(1234, nil, testclock.NewClock(time.Now()))
	f.han = NewFrontController(testSecret, canonicalizer, f.queue, f.checks)
	return f
}

func pullRequestBody(action string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"number": 7,
		"installation": {"id": 1234},
		"sender": {"login": "octocat", "id": 99},
		"repository": {
			"id": 500,
			"name": "widgets",
			"full_name": "acme/widgets",
			"default_branch": "main",
			"owner": {"login": "acme", "id": 1}
		},
		"pull_request": {
			"number": 7,
			"title": "Add a widget",
			"html_url": "https://github.com/acme/widgets/pull/7",
			"draft": false,
			"user": {"login": "octocat", "id": 99},
			"head": {"sha": %q, "ref": "feature/widget"},
			"base": {"sha": %q, "ref": "main"}
		}
	}`, action, testHeadSHA, testBaseSHA))
}

func postWebhook(t *testing.T, han *FrontController, event string, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/github/events", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "del-1")
	if sign {
		req.Header.Set(auth.SignatureHeader, auth.Sign(body, testSecret))
	}
	w := httptest.NewRecorder()
	han.WebhookHandler(w, req)
	return w
}

func TestWebhookAccepted(t *testing.T) {
	f := newFrontFixture()

	w := postWebhook(t, f.han, "pull_request", pullRequestBody("opened"), true)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.NotEmpty(t, resp["request_id"])

	require.Len(t, f.queue.sent, 1)
	sent := f.queue.sent[0]
	assert.Equal(t, "del-1", sent.DeliveryID)
	assert.Equal(t, resp["request_id"], sent.RequestID)
	assert.Equal(t, "acme/widgets", sent.Repository.FullName)
	assert.Equal(t, testHeadSHA, sent.Head.SHA)

	// The trigger check run was opened and closed.
	require.Len(t, f.checks.created, 1)
	assert.Equal(t, "orgu-trigger", f.checks.created[0].Name)
	require.Len(t, f.checks.updated, 1)
	assert.Equal(t, params.CheckConclusionSuccess, f.checks.updated[0].Conclusion)
	assert.Equal(t, "orgu-front queued", f.checks.updated[0].Title)
}

func TestWebhookBadSignature(t *testing.T) {
	f := newFrontFixture()

	w := postWebhook(t, f.han, "pull_request", pullRequestBody("opened"), false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.queue.sent)

	body := pullRequestBody("opened")
	req := httptest.NewRequest(http.MethodPost, "/github/events", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "del-1")
	req.Header.Set(auth.SignatureHeader, auth.Sign(body, "wrong-secret"))
	w2 := httptest.NewRecorder()
	f.han.WebhookHandler(w2, req)
	assert.Equal(t, http.StatusUnauthorized, w2.Code)
}

func TestWebhookMissingDeliveryHeader(t *testing.T) {
	f := newFrontFixture()
	body := pullRequestBody("opened")

	req := httptest.NewRequest(http.MethodPost, "/github/events", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set(auth.SignatureHeader, auth.Sign(body, testSecret))
	w := httptest.NewRecorder()
	f.han.WebhookHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookPing(t *testing.T) {
	f := newFrontFixture()
	body := []byte(`{"zen": "Design for failure."}`)

	w := postWebhook(t, f.han, "ping", body, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
	assert.Empty(t, f.queue.sent)
}

func TestWebhookIgnoredAction(t *testing.T) {
	f := newFrontFixture()

	w := postWebhook(t, f.han, "pull_request", pullRequestBody("closed"), true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
	assert.Equal(t, "unhandled action: closed", resp["reason"])
	assert.Empty(t, f.queue.sent)
	assert.Empty(t, f.checks.created)
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newFrontFixture()

	w := postWebhook(t, f.han, "pull_request", []byte(`{broken`), true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.queue.sent)
}

func TestWebhookRelayFailure(t *testing.T) {
	f := newFrontFixture()
	f.queue.err = gErrors.NewRelayError("bus unavailable")

	w := postWebhook(t, f.han, "pull_request", pullRequestBody("opened"), true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.checks.created, "no trigger check run for unrelayed events")
}

func TestWebhookTriggerFailureStillAccepted(t *testing.T) {
	f := newFrontFixture()
	f.checks.createErr = fmt.Errorf("github down")

	w := postWebhook(t, f.han, "pull_request", pullRequestBody("opened"), true)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.queue.sent, 1)
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
