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

package github

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt"
	"github.com/google/go-github/v72/github"
	"github.com/pkg/errors"

	"github.com/Finatext/orgu/config"
	"github.com/Finatext/orgu/metrics"
	"github.com/Finatext/orgu/params"
)

const (
	// appJWTBackdate absorbs clock drift between us and GitHub.
	appJWTBackdate = time.Minute
	// appJWTLifetime stays under the 10 minute cap GitHub enforces.
	appJWTLifetime = 9 * time.Minute
)

// NewAppJWT mints a short-lived RS256 app token. GitHub rejects tokens
// with an exp more than 10 minutes out, so the lifetime is fixed.
func NewAppJWT(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.StandardClaims{
		Issuer:    strconv.FormatInt(appID, 10),
		IssuedAt:  now.Add(-appJWTBackdate).Unix(),
		ExpiresAt: now.Add(appJWTLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "signing app jwt")
	}
	return signed, nil
}

// appJWTTransport signs every request with a fresh app JWT. Minting is
// cheap enough that caching is not worth the expiry bookkeeping.
type appJWTTransport struct {
	base  http.RoundTripper
	appID int64
	key   *rsa.PrivateKey
}

func (t *appJWTTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := NewAppJWT(t.appID, t.key, time.Now())
	if err != nil {
		return nil, err
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(cloned)
}

// installationTransport signs every request with an installation token
// from the provider. Token refresh happens inside the provider.
type installationTransport struct {
	base           http.RoundTripper
	tokens         TokenProvider
	installationID int64
}

func (t *installationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(req.Context(), t.installationID)
	if err != nil {
		return nil, err
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(cloned)
}

// TokenMinter exchanges the app JWT for installation tokens. It is the
// token source behind the cache; nothing else should call the
// installation token endpoint.
type TokenMinter struct {
	apps        *github.AppsService
	callTimeout time.Duration
}

func NewTokenMinter(cfg config.Github) (*TokenMinter, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	httpClient := &http.Client{
		Transport: &appJWTTransport{
			base:  http.DefaultTransport,
			appID: cfg.AppID,
			key:   key,
		},
	}
	cli, err := newGithubClient(httpClient, cfg.APIBaseURL)
	if err != nil {
		return nil, err
	}
	return &TokenMinter{
		apps:        cli.Apps,
		callTimeout: config.DefaultAPICallTimeout,
	}, nil
}

func (m *TokenMinter) CreateInstallationToken(ctx context.Context, installationID int64) (tok params.InstallationToken, err error) {
	metrics.GithubOperationCount.WithLabelValues("CreateInstallationToken").Inc()
	defer func() {
		if err != nil {
			metrics.GithubOperationFailedCount.WithLabelValues("CreateInstallationToken").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	token, resp, err := m.apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return params.InstallationToken{}, wrapAPIError("CreateInstallationToken", err, resp)
	}
	return params.InstallationToken{
		Token:     token.GetToken(),
		ExpiresAt: token.GetExpiresAt().Time,
	}, nil
}
