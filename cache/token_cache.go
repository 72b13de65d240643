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

package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/singleflight"

	"github.com/Finatext/orgu/params"
)

// RefreshMargin is how close to expiry a cached token may get before a
// fresh one is minted.
const RefreshMargin = 60 * time.Second

// TokenSource mints a fresh installation token. Implemented by the
// GitHub client using an app JWT.
type TokenSource interface {
	CreateInstallationToken(ctx context.Context, installationID int64) (params.InstallationToken, error)
}

// TokenCache caches installation tokens keyed by installation ID.
// Concurrent lookups for the same installation collapse into a single
// mint; different installations mint independently. Tokens are held in
// memory only.
type TokenCache struct {
	source TokenSource
	clock  clock.Clock

	mux    sync.Mutex
	tokens map[int64]params.InstallationToken
	group  singleflight.Group
}

func NewTokenCache(source TokenSource, clk clock.Clock) *TokenCache {
	return &TokenCache{
		source: source,
		clock:  clk,
		tokens: make(map[int64]params.InstallationToken),
	}
}

// Token returns a cached installation token, minting a new one when the
// cache is empty or the cached token is within RefreshMargin of expiry.
func (t *TokenCache) Token(ctx context.Context, installationID int64) (string, error) {
	if tok, ok := t.get(installationID); ok {
		return tok.Token, nil
	}

	key := strconv.FormatInt(installationID, 10)
	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have minted while we waited.
		if tok, ok := t.get(installationID); ok {
			return tok.Token, nil
		}
		tok, err := t.source.CreateInstallationToken(ctx, installationID)
		if err != nil {
			return nil, err
		}
		t.set(installationID, tok)
		return tok.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *TokenCache) get(installationID int64) (params.InstallationToken, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()

	tok, ok := t.tokens[installationID]
	if !ok {
		return params.InstallationToken{}, false
	}
	if tok.ExpiresAt.Sub(t.clock.Now()) <= RefreshMargin {
		return params.InstallationToken{}, false
	}
	return tok, true
}

func (t *TokenCache) set(installationID int64, tok params.InstallationToken) {
	t.mux.Lock()
	defer t.mux.Unlock()

	t.tokens[installationID] = tok
}
