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

// Package github wraps the go-github client with app and installation
// authentication, typed errors and the clamping the check-run API needs.
package github

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v72/github"
	"github.com/pkg/errors"

	"github.com/Finatext/orgu/config"
	"github.com/Finatext/orgu/metrics"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/util"
)

// GitHub rejects check-run output beyond these sizes.
const (
	maxTitleLen   = 255
	maxSummaryLen = 64 * 1024
	maxTextLen    = 64 * 1024
)

// TokenProvider yields an installation token for API calls. Implemented
// by the token cache.
type TokenProvider interface {
	Token(ctx context.Context, installationID int64) (string, error)
}

type CreateCheckRunInput struct {
	Name    string
	HeadSHA string
	Status  params.CheckStatus
	Title   string
	Summary string
	Text    string
}

type UpdateCheckRunInput struct {
	Name   string
	Status params.CheckStatus
	// Conclusion must be set when Status is completed and empty otherwise.
	Conclusion params.CheckConclusion
	Title      string
	Summary    string
	Text       string
}

// Client is the surface of the GitHub API the front and runner use.
type Client interface {
	CreateCheckRun(ctx context.Context, owner, repo string, input CreateCheckRunInput) (int64, error)
	UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, input UpdateCheckRunInput) error
	GetCustomProperties(ctx context.Context, owner, repo string) (map[string]string, error)
}

type githubClient struct {
	checks      *github.ChecksService
	repos       *github.RepositoriesService
	callTimeout time.Duration
}

// NewClient returns a Client authenticating every request with an
// installation token pulled from the provider.
func NewClient(cfg config.Github, tokens TokenProvider) (Client, error) {
	httpClient := &http.Client{
		Transport: &installationTransport{
			base:           http.DefaultTransport,
			tokens:         tokens,
			installationID: cfg.InstallationID,
		},
	}
	cli, err := newGithubClient(httpClient, cfg.APIBaseURL)
	if err != nil {
		return nil, err
	}
	return &githubClient{
		checks:      cli.Checks,
		repos:       cli.Repositories,
		callTimeout: config.DefaultAPICallTimeout,
	}, nil
}

func newGithubClient(httpClient *http.Client, apiBaseURL string) (*github.Client, error) {
	cli := github.NewClient(httpClient)
	if apiBaseURL != "" && apiBaseURL != config.DefaultGithubAPIBaseURL {
		var err error
		cli, err = cli.WithEnterpriseURLs(apiBaseURL, apiBaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "setting api base url")
		}
	}
	return cli, nil
}

func (g *githubClient) CreateCheckRun(ctx context.Context, owner, repo string, input CreateCheckRunInput) (checkRunID int64, err error) {
	metrics.GithubOperationCount.WithLabelValues("CreateCheckRun").Inc()
	defer func() {
		if err != nil {
			metrics.GithubOperationFailedCount.WithLabelValues("CreateCheckRun").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	opts := github.CreateCheckRunOptions{
		Name:    input.Name,
		HeadSHA: input.HeadSHA,
		Status:  github.Ptr(string(input.Status)),
		Output:  checkRunOutput(input.Title, input.Summary, input.Text),
	}
	run, resp, err := g.checks.CreateCheckRun(ctx, owner, repo, opts)
	if err != nil {
		return 0, wrapAPIError("CreateCheckRun", err, resp)
	}
	return run.GetID(), nil
}

func (g *githubClient) UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, input UpdateCheckRunInput) (err error) {
	metrics.GithubOperationCount.WithLabelValues("UpdateCheckRun").Inc()
	defer func() {
		if err != nil {
			metrics.GithubOperationFailedCount.WithLabelValues("UpdateCheckRun").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	opts := github.UpdateCheckRunOptions{
		Name:   input.Name,
		Status: github.Ptr(string(input.Status)),
		Output: checkRunOutput(input.Title, input.Summary, input.Text),
	}
	if input.Status == params.CheckStatusCompleted {
		opts.Conclusion = github.Ptr(string(input.Conclusion))
		opts.CompletedAt = &github.Timestamp{Time: time.Now().UTC()}
	}
	_, resp, err := g.checks.UpdateCheckRun(ctx, owner, repo, checkRunID, opts)
	if err != nil {
		return wrapAPIError("UpdateCheckRun", err, resp)
	}
	return nil
}

func (g *githubClient) GetCustomProperties(ctx context.Context, owner, repo string) (props map[string]string, err error) {
	metrics.GithubOperationCount.WithLabelValues("GetCustomProperties").Inc()
	defer func() {
		if err != nil {
			metrics.GithubOperationFailedCount.WithLabelValues("GetCustomProperties").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	values, resp, err := g.repos.GetAllCustomPropertyValues(ctx, owner, repo)
	if err != nil {
		return nil, wrapAPIError("GetCustomProperties", err, resp)
	}

	props = make(map[string]string, len(values))
	for _, value := range values {
		if s, ok := propertyValueString(value.Value); ok {
			props[value.PropertyName] = s
		}
	}
	return props, nil
}

// The custom properties API types values as string, string list or null
// depending on the property definition.
func propertyValueString(v interface{}) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case []string:
		return strings.Join(value, ","), true
	case []interface{}:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	default:
		return "", false
	}
}

func checkRunOutput(title, summary, text string) *github.CheckRunOutput {
	if title == "" && summary == "" && text == "" {
		return nil
	}
	output := &github.CheckRunOutput{
		Title:   github.Ptr(util.TruncateUTF8(title, maxTitleLen)),
		Summary: github.Ptr(util.TruncateUTF8(summary, maxSummaryLen)),
	}
	if text != "" {
		output.Text = github.Ptr(util.TruncateUTF8(text, maxTextLen))
	}
	return output
}
