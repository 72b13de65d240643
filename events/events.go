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

// Package events turns raw GitHub webhook payloads into canonical check
// requests. Only a small allow-set of (event, action) pairs produce a
// request; everything else is ignored with a reason.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/juju/clock"

	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/params"
)

// PropertyFetcher resolves repository custom properties. Implemented by
// the GitHub client; a fetch failure is not fatal to canonicalization.
type PropertyFetcher interface {
	GetCustomProperties(ctx context.Context, owner, repo string) (map[string]string, error)
}

// Canonicalizer holds the event filter and enrichment state of the front
// process.
type Canonicalizer struct {
	installationID int64
	props          PropertyFetcher
	clock          clock.Clock
}

func NewCanonicalizer(installationID int64, props PropertyFetcher, clk clock.Clock) *Canonicalizer {
	return &Canonicalizer{
		installationID: installationID,
		props:          props,
		clock:          clk,
	}
}

// Canonicalize filters and converts a raw webhook payload. It returns an
// IgnoredError for events outside the allow-set, a BadRequestError for
// payloads that cannot be decoded, and a CheckRequest otherwise.
func (c *Canonicalizer) Canonicalize(ctx context.Context, eventName, requestID, deliveryID string, payload []byte) (params.CheckRequest, error) {
	var (
		req params.CheckRequest
		err error
	)
	switch params.EventName(eventName) {
	case params.EventPullRequest:
		req, err = c.fromPullRequest(payload)
	case params.EventCheckSuite:
		req, err = c.fromCheckSuite(payload)
	case params.EventCheckRun:
		req, err = c.fromCheckRun(payload)
	default:
		return params.CheckRequest{}, gErrors.NewIgnoredError("unhandled event: %s", eventName)
	}
	if err != nil {
		return params.CheckRequest{}, err
	}

	req.RequestID = requestID
	req.DeliveryID = deliveryID
	req.ReceivedAt = c.clock.Now().UTC().Truncate(time.Millisecond)
	req.Repository.CustomProperties = c.fetchProperties(ctx, req.Repository)

	if err := req.Validate(); err != nil {
		return params.CheckRequest{}, gErrors.NewBadRequestError("invalid payload: %s", err)
	}
	return req, nil
}

func (c *Canonicalizer) fetchProperties(ctx context.Context, repo params.Repository) map[string]string {
	if c.props == nil {
		return nil
	}
	props, err := c.props.GetCustomProperties(ctx, repo.Owner, repo.Name)
	if err != nil {
		// The job runs without properties; the check request is still valid.
		slog.With(slog.Any("error", err)).WarnContext(
			ctx, "failed to fetch custom properties", "repo", repo.FullName)
		return nil
	}
	return params.FilterCustomProperties(props)
}

type userFields struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type repoFields struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	FullName      string     `json:"full_name"`
	DefaultBranch string     `json:"default_branch"`
	Owner         userFields `json:"owner"`
}

type refFields struct {
	SHA string `json:"sha"`
	Ref string `json:"ref"`
}

type commonFields struct {
	Action       string `json:"action"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Repository repoFields `json:"repository"`
	Sender     userFields `json:"sender"`
}

func (f commonFields) repository() params.Repository {
	return params.Repository{
		ID:            f.Repository.ID,
		Owner:         f.Repository.Owner.Login,
		Name:          f.Repository.Name,
		FullName:      f.Repository.FullName,
		DefaultBranch: f.Repository.DefaultBranch,
	}
}

func (f commonFields) sender() params.User {
	return params.User{
		Login: f.Sender.Login,
		ID:    f.Sender.ID,
	}
}

type pullRequestEvent struct {
	commonFields
	Number      int64  `json:"number"`
	Before      string `json:"before"`
	After       string `json:"after"`
	PullRequest struct {
		Number  int64      `json:"number"`
		Title   string     `json:"title"`
		HTMLURL string     `json:"html_url"`
		User    userFields `json:"user"`
		Head    refFields  `json:"head"`
		Base    refFields  `json:"base"`
	} `json:"pull_request"`
}

var pullRequestActions = map[string]struct{}{
	"opened":           {},
	"synchronize":      {},
	"reopened":         {},
	"ready_for_review": {},
}

func (c *Canonicalizer) fromPullRequest(payload []byte) (params.CheckRequest, error) {
	var ev pullRequestEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return params.CheckRequest{}, gErrors.NewBadRequestError("decoding pull_request payload: %s", err)
	}
	if _, ok := pullRequestActions[ev.Action]; !ok {
		return params.CheckRequest{}, gErrors.NewIgnoredError("unhandled action: %s", ev.Action)
	}

	// On synchronize the after field is authoritative, but GitHub sends the
	// zero SHA in some payloads (such as when a draft PR is created). Fall
	// back to the head ref then.
	headSHA := ev.After
	if !params.IsValidSHA(headSHA) || headSHA == params.ZeroSHA {
		headSHA = ev.PullRequest.Head.SHA
	}

	return params.CheckRequest{
		EventName:      string(params.EventPullRequest),
		Action:         ev.Action,
		InstallationID: ev.Installation.ID,
		Sender:         ev.sender(),
		Repository:     ev.repository(),
		Head: params.Head{
			SHA:     headSHA,
			Ref:     ev.PullRequest.Head.Ref,
			RefType: params.RefTypeBranch,
		},
		Base: &params.Base{
			SHA: ev.PullRequest.Base.SHA,
			Ref: ev.PullRequest.Base.Ref,
		},
		PullRequest: &params.PullRequest{
			Number:  ev.PullRequest.Number,
			Title:   ev.PullRequest.Title,
			HTMLURL: ev.PullRequest.HTMLURL,
			User: params.User{
				Login: ev.PullRequest.User.Login,
				ID:    ev.PullRequest.User.ID,
			},
		},
	}, nil
}

type suitePullRequest struct {
	Number int64     `json:"number"`
	Head   refFields `json:"head"`
	Base   refFields `json:"base"`
}

type checkSuiteEvent struct {
	commonFields
	CheckSuite struct {
		HeadSHA      string             `json:"head_sha"`
		HeadBranch   string             `json:"head_branch"`
		PullRequests []suitePullRequest `json:"pull_requests"`
	} `json:"check_suite"`
}

func (c *Canonicalizer) fromCheckSuite(payload []byte) (params.CheckRequest, error) {
	var ev checkSuiteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return params.CheckRequest{}, gErrors.NewBadRequestError("decoding check_suite payload: %s", err)
	}
	if ev.Action != "rerequested" {
		return params.CheckRequest{}, gErrors.NewIgnoredError("unhandled action: %s", ev.Action)
	}
	if err := c.checkInstallation(ev.Installation.ID); err != nil {
		return params.CheckRequest{}, err
	}

	req := params.CheckRequest{
		EventName:      string(params.EventCheckSuite),
		Action:         ev.Action,
		InstallationID: ev.Installation.ID,
		Sender:         ev.sender(),
		Repository:     ev.repository(),
		Head: params.Head{
			SHA:     ev.CheckSuite.HeadSHA,
			Ref:     ev.CheckSuite.HeadBranch,
			RefType: params.RefTypeBranch,
		},
	}
	attachSuitePullRequest(&req, ev.CheckSuite.PullRequests)
	return req, nil
}

type checkRunEvent struct {
	commonFields
	CheckRun struct {
		CheckSuite struct {
			HeadSHA    string `json:"head_sha"`
			HeadBranch string `json:"head_branch"`
		} `json:"check_suite"`
		PullRequests []suitePullRequest `json:"pull_requests"`
	} `json:"check_run"`
}

func (c *Canonicalizer) fromCheckRun(payload []byte) (params.CheckRequest, error) {
	var ev checkRunEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return params.CheckRequest{}, gErrors.NewBadRequestError("decoding check_run payload: %s", err)
	}
	if ev.Action != "rerequested" {
		return params.CheckRequest{}, gErrors.NewIgnoredError("unhandled action: %s", ev.Action)
	}
	if err := c.checkInstallation(ev.Installation.ID); err != nil {
		return params.CheckRequest{}, err
	}

	req := params.CheckRequest{
		EventName:      string(params.EventCheckRun),
		Action:         ev.Action,
		InstallationID: ev.Installation.ID,
		Sender:         ev.sender(),
		Repository:     ev.repository(),
		Head: params.Head{
			SHA:     ev.CheckRun.CheckSuite.HeadSHA,
			Ref:     ev.CheckRun.CheckSuite.HeadBranch,
			RefType: params.RefTypeBranch,
		},
	}
	attachSuitePullRequest(&req, ev.CheckRun.PullRequests)
	return req, nil
}

// Re-run events reach every app installed on the repository, not just the
// one whose check is re-run. Only the configured installation proceeds.
func (c *Canonicalizer) checkInstallation(id int64) error {
	if c.installationID != 0 && id != c.installationID {
		return gErrors.NewIgnoredError("installation mismatch: %d", id)
	}
	return nil
}

// Check suite payloads carry at most a skeleton of the associated pull
// requests; the base ref is the useful part.
func attachSuitePullRequest(req *params.CheckRequest, prs []suitePullRequest) {
	if len(prs) == 0 {
		return
	}
	pr := prs[0]
	req.Base = &params.Base{
		SHA: pr.Base.SHA,
		Ref: pr.Base.Ref,
	}
	req.PullRequest = &params.PullRequest{
		Number: pr.Number,
	}
}
