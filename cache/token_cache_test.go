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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Finatext/orgu/params"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  map[int64]int
	ttl    time.Duration
	clk    *testclock.Clock
	failed bool
}

func newFakeSource(clk *testclock.Clock, ttl time.Duration) *fakeSource {
	return &fakeSource{calls: map[int64]int{}, ttl: ttl, clk: clk}
}

func (f *fakeSource) CreateInstallationToken(_ context.Context, id int64) (params.InstallationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed {
		return params.InstallationToken{}, fmt.Errorf("token endpoint unavailable")
	}
	f.calls[id]++
	return params.InstallationToken{
		Token:     fmt.Sprintf("tok-%d-%d", id, f.calls[id]),
		ExpiresAt: f.clk.Now().Add(f.ttl),
	}, nil
}

func (f *fakeSource) callCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestTokenCacheMintsOnce(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	source := newFakeSource(clk, time.Hour)
	cache := NewTokenCache(source, clk)

	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tok-42-1", tok)

	tok, err = cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tok-42-1", tok)
	assert.Equal(t, 1, source.callCount(42))
}

func TestTokenCacheConcurrentSingleMint(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	source := newFakeSource(clk, time.Hour)
	cache := NewTokenCache(source, clk)

	const concurrency = 32
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Token(context.Background(), 42); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, source.callCount(42))
}

func TestTokenCachePerInstallation(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	source := newFakeSource(clk, time.Hour)
	cache := NewTokenCache(source, clk)

	tok42, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	tok99, err := cache.Token(context.Background(), 99)
	require.NoError(t, err)

	assert.NotEqual(t, tok42, tok99)
	assert.Equal(t, 1, source.callCount(42))
	assert.Equal(t, 1, source.callCount(99))
}

func TestTokenCacheRefreshNearExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	source := newFakeSource(clk, 10*time.Minute)
	cache := NewTokenCache(source, clk)

	_, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)

	// Still comfortably valid.
	clk.Advance(5 * time.Minute)
	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tok-42-1", tok)

	// Within the 60s refresh margin: a new token is minted.
	clk.Advance(4*time.Minute + 30*time.Second)
	tok, err = cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tok-42-2", tok)
	assert.Equal(t, 2, source.callCount(42))
}

func TestTokenCacheMintFailure(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	source := newFakeSource(clk, time.Hour)
	source.failed = true
	cache := NewTokenCache(source, clk)

	_, err := cache.Token(context.Background(), 42)
	require.Error(t, err)

	// Failure is not cached; a later call succeeds.
	source.failed = false
	tok, err := cache.Token(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tok-42-1", tok)
}
