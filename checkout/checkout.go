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

// Package checkout materializes the commit under test into a scratch
// directory. It fetches the exact SHA by refspec instead of cloning a
// branch, so force-pushed and re-run commits resolve the same way.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/Finatext/orgu/params"
)

const (
	headRef = "refs/orgu/head"
	baseRef = "refs/orgu/base"
	// tokenUser is the username GitHub expects with installation tokens
	// over HTTPS.
	tokenUser = "x-access-token"
)

type ErrorKind string

const (
	// KindTimeout means the checkout deadline elapsed. The runner reports
	// a timed_out conclusion for it.
	KindTimeout  ErrorKind = "timeout"
	KindAuth     ErrorKind = "auth"
	KindNotFound ErrorKind = "not_found"
	KindFetch    ErrorKind = "fetch"
	KindIO       ErrorKind = "io"
)

type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Input describes one checkout. Token may be empty for public hosts.
type Input struct {
	Owner   string
	Repo    string
	HeadSHA string
	// BaseSHA is fetched best-effort so diff-based jobs have the merge
	// base available. A failure does not fail the checkout.
	BaseSHA string
	Token   string
	// Dest must not exist yet. On failure it is removed.
	Dest string
}

// Engine materializes a commit into Input.Dest.
type Engine interface {
	Checkout(ctx context.Context, input Input) error
}

type Config struct {
	CloneBaseURL string
	// Depth limits the fetch. Zero means full history.
	Depth   int
	Timeout time.Duration
}

type GitEngine struct {
	cfg Config
}

func NewGitEngine(cfg Config) *GitEngine {
	return &GitEngine{cfg: cfg}
}

func (e *GitEngine) Checkout(ctx context.Context, input Input) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	defer func() {
		if err != nil {
			// A partial tree must not leak into the next job.
			if rmErr := os.RemoveAll(input.Dest); rmErr != nil {
				slog.With(slog.Any("error", rmErr)).ErrorContext(ctx, "failed to remove checkout dir", "dest", input.Dest)
			}
		}
	}()

	repo, err := git.PlainInit(input.Dest, false)
	if err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	remote, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{RepoURL(e.cfg.CloneBaseURL, input.Owner, input.Repo)},
	})
	if err != nil {
		return &Error{Kind: KindIO, Err: err}
	}

	// Auth goes through fetch options only; the token must never be
	// written to .git/config.
	var auth transport.AuthMethod
	if input.Token != "" {
		auth = &githttp.BasicAuth{Username: tokenUser, Password: input.Token}
	}

	if err := e.fetchHead(ctx, remote, auth, input.HeadSHA); err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return &Error{Kind: KindIO, Err: err}
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(input.HeadSHA)}); err != nil {
		return classify(ctx, err)
	}

	if params.IsValidSHA(input.BaseSHA) && input.BaseSHA != params.ZeroSHA {
		if err := fetch(ctx, remote, auth, input.BaseSHA, baseRef, e.cfg.Depth); err != nil {
			slog.With(slog.Any("error", err)).WarnContext(ctx, "failed to fetch base sha", "base_sha", input.BaseSHA)
		}
	}
	return nil
}

// fetchHead fetches the commit under test. A shallow fetch of an exact
// SHA can fail on servers that refuse unreachable objects in shallow
// mode, so it escalates to a full fetch once before giving up.
func (e *GitEngine) fetchHead(ctx context.Context, remote *git.Remote, auth transport.AuthMethod, sha string) error {
	err := fetch(ctx, remote, auth, sha, headRef, e.cfg.Depth)
	if err == nil {
		return nil
	}
	classified := classify(ctx, err)
	if e.cfg.Depth == 0 || classified.Kind != KindFetch {
		return classified
	}

	slog.With(slog.Any("error", err)).InfoContext(ctx, "shallow fetch failed, retrying full fetch", "sha", sha)
	if err := fetch(ctx, remote, auth, sha, headRef, 0); err != nil {
		return classify(ctx, err)
	}
	return nil
}

func fetch(ctx context.Context, remote *git.Remote, auth transport.AuthMethod, sha, ref string, depth int) error {
	err := remote.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+%s:%s", sha, ref))},
		Depth:    depth,
		Auth:     auth,
		Tags:     git.NoTags,
	})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	return err
}

// RepoURL joins the clone base with the repository path. GitHub accepts
// the path with or without a .git suffix; we add none.
func RepoURL(base, owner, repo string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(base, "/"), owner, repo)
}

func classify(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, transport.ErrAuthenticationRequired) || errors.Is(err, transport.ErrAuthorizationFailed):
		return &Error{Kind: KindAuth, Err: err}
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return &Error{Kind: KindNotFound, Err: err}
	default:
		return &Error{Kind: KindFetch, Err: err}
	}
}
