package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAuth struct {
	cycles int32
	block  chan struct{} // when set, Authenticate waits here
	err    error
}

func (a *countingAuth) Authenticate(ctx context.Context) (Credential, error) {
	n := atomic.AddInt32(&a.cycles, 1)
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	if a.err != nil {
		return Credential{}, a.err
	}
	return Credential{
		Token:  fmt.Sprintf("tok-%d", n),
		Expiry: time.Now().Add(time.Hour),
	}, nil
}

func (a *countingAuth) count() int32 { return atomic.LoadInt32(&a.cycles) }

func TestDo_AuthenticatesOnceAndReuses(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	auth := &countingAuth{}
	c := NewCoordinator(srv.URL, auth)

	body, status, err := c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	_, _, err = c.Get(context.Background(), "/wallet")
	require.NoError(t, err)

	assert.EqualValues(t, 1, auth.count())
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestDo_ConcurrentCallsShareOneAuthCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	auth := &countingAuth{block: make(chan struct{})}
	c := NewCoordinator(srv.URL, auth)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct paths so request dedup does not mask the auth count.
			_, _, errs[i] = c.Get(context.Background(), fmt.Sprintf("/r/%d", i))
		}(i)
	}

	// All callers are queued on the same cycle before it completes.
	require.Eventually(t, func() bool { return auth.count() >= 1 }, time.Second, 5*time.Millisecond)
	close(auth.block)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, auth.count())
}

func TestDo_DeduplicatesIdenticalInFlightRequests(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write([]byte(`{"players":2}`))
	}))
	defer srv.Close()

	c := NewCoordinator(srv.URL, &countingAuth{})

	const n = 6
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bodies[i], _, _ = c.Get(context.Background(), "/lobbies/lobby-1")
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	for i := 0; i < n; i++ {
		assert.JSONEq(t, `{"players":2}`, string(bodies[i]))
	}

	// Each caller owns its copy; mutating one must not leak to another.
	bodies[0][0] = 'X'
	assert.JSONEq(t, `{"players":2}`, string(bodies[1]))
}

func TestDo_EvictsRejectedCredentialAndRetriesOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	auth := &countingAuth{}
	c := NewCoordinator(srv.URL, auth)

	body, status, err := c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.EqualValues(t, 2, auth.count())
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestDo_FreshCredentialRejectedIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewCoordinator(srv.URL, &countingAuth{})

	_, _, err := c.Get(context.Background(), "/lobbies")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDo_AuthenticatorErrorWraps(t *testing.T) {
	c := NewCoordinator("http://127.0.0.1:0", &countingAuth{err: errors.New("user rejected signature")})

	_, _, err := c.Get(context.Background(), "/lobbies")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDisconnect_ForcesReauthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	auth := &countingAuth{}
	c := NewCoordinator(srv.URL, auth)

	_, _, err := c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)
	c.Disconnect()
	_, _, err = c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)

	assert.EqualValues(t, 2, auth.count())
}

func TestUseAuthenticator_SwapsIdentity(t *testing.T) {
	var lastToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastToken = r.Header.Get("Authorization")
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	first := &countingAuth{}
	c := NewCoordinator(srv.URL, first)
	_, _, err := c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", lastToken)

	second := &countingAuth{}
	c.UseAuthenticator(second)
	_, _, err = c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", lastToken) // second authenticator's first cycle
	assert.EqualValues(t, 1, first.count())
	assert.EqualValues(t, 1, second.count())
}

func TestDo_ExpiredCredentialTriggersNewCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	auth := &countingAuth{}
	c := NewCoordinator(srv.URL, auth)
	_, _, err := c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)

	// Force the cached credential past its expiry.
	c.mu.Lock()
	c.cred.Expiry = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	_, _, err = c.Get(context.Background(), "/lobbies")
	require.NoError(t, err)
	assert.EqualValues(t, 2, auth.count())
}
