package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/profilesync/internal/app"
	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/config"
	"github.com/dreamware/profilesync/internal/profile"
)

const peerID cluster.Identity = 0x1001

// fakeHost answers /register and /leave and records what it was sent.
type fakeHost struct {
	srv      *httptest.Server
	failures atomic.Int32

	mu        sync.Mutex
	registers []cluster.RegisterRequest
	leaves    []cluster.Identity
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/register":
			if h.failures.Load() > 0 {
				h.failures.Add(-1)
				http.Error(w, "starting", http.StatusServiceUnavailable)
				return
			}
			var req cluster.RegisterRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
			h.mu.Lock()
			h.registers = append(h.registers, req)
			h.mu.Unlock()
			_ = json.NewEncoder(w).Encode(cluster.RegisterResponse{SessionID: "session-1"})
		case "/leave":
			var req cluster.LeaveRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			h.mu.Lock()
			h.leaves = append(h.leaves, req.ID)
			h.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) registrations() []cluster.RegisterRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]cluster.RegisterRequest(nil), h.registers...)
}

func newTestPeer(t *testing.T, hostURL string) (*peer, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Role = "peer"
	cfg.LocalID = peerID.String()
	cfg.HostAddr = hostURL
	cfg.PublicAddr = "http://peer.test"
	cfg.StorageBackend = config.BackendMemory
	cfg.DebounceDelay = 10 * time.Millisecond

	base, err := app.Bootstrap(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })

	p, err := newPeer(base)
	require.NoError(t, err)
	require.NoError(t, p.proto.Start())
	t.Cleanup(p.proto.Teardown)

	ts := httptest.NewServer(p.routes())
	t.Cleanup(ts.Close)
	return p, ts
}

func postMessage(t *testing.T, url, from string, data []byte) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/message/"+cluster.MessageProfileInfo, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set(cluster.HeaderFrom, from)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestInboundProfileInfo(t *testing.T) {
	host := newFakeHost(t)
	p, ts := newTestPeer(t, host.srv.URL)
	rec := profile.NewRecord(4, []byte("remote"))

	tests := []struct {
		name   string
		from   string
		data   []byte
		status int
	}{
		{"from host", host.srv.URL, profile.Encode(0x2002, rec), http.StatusNoContent},
		{"from another peer", "http://intruder", profile.Encode(0x3003, rec), http.StatusForbidden},
		{"truncated", host.srv.URL, []byte{1, 2, 3, 4, 5}, http.StatusBadRequest},
		{"own record echoed", host.srv.URL, profile.Encode(peerID, rec), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, postMessage(t, ts.URL, tt.from, tt.data))
		})
	}

	assert.Equal(t, []cluster.Identity{0x2002}, p.registry.Keys())
}

func TestLocalProfileEndpoints(t *testing.T) {
	host := newFakeHost(t)
	p, ts := newTestPeer(t, host.srv.URL)

	resp, err := http.Get(ts.URL + "/profile")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := `{"version":2,"payload":"aGVsbG8="}`
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/profile", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	rec, ok := p.base.Local.Load()
	require.True(t, ok)
	assert.Equal(t, profile.NewRecord(2, []byte("hello")), rec)

	regs := host.registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, peerID, regs[0].Participant.ID)
	assert.Equal(t, "http://peer.test", regs[0].Participant.Addr)
	require.NotNil(t, regs[0].Profile)
	assert.Equal(t, []byte("hello"), regs[0].Profile.Payload)

	var doc cluster.ProfileDocument
	require.NoError(t, cluster.GetJSON(context.Background(), ts.URL+"/profile", &doc))
	assert.Equal(t, int32(2), doc.Version)
	assert.Equal(t, []byte("hello"), doc.Payload)
}

func TestPutProfileHostUnreachable(t *testing.T) {
	host := newFakeHost(t)
	p, ts := newTestPeer(t, host.srv.URL)
	host.srv.Close()

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/profile", bytes.NewBufferString(`{"version":1,"payload":""}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	_, ok := p.base.Local.Load()
	assert.True(t, ok, "the local save is kept even when the host is gone")
}

func TestGetProfileReadsThroughCache(t *testing.T) {
	host := newFakeHost(t)
	p, ts := newTestPeer(t, host.srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.base.Scheduler.Run(ctx) }()

	fetch := func() (cluster.ProfileEntry, string, int) {
		resp, err := http.Get(ts.URL + "/profiles/0x2002")
		require.NoError(t, err)
		defer resp.Body.Close()
		var e cluster.ProfileEntry
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		}
		return e, resp.Header.Get("X-Cache"), resp.StatusCode
	}

	_, _, status := fetch()
	assert.Equal(t, http.StatusNotFound, status)

	require.Equal(t, http.StatusNoContent, postMessage(t, ts.URL, host.srv.URL, profile.Encode(0x2002, profile.NewRecord(1, []byte("v1")))))

	e, source, status := fetch()
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "miss", source)
	assert.Equal(t, int32(1), e.Version)

	// Let the reconciliation triggered by the upsert run before relying on the cache
	require.Eventually(t, func() bool { return !p.reconciler.Pending() }, time.Second, 5*time.Millisecond)
	_, _, _ = fetch()
	_, source, _ = fetch()
	assert.Equal(t, "hit", source)

	require.Equal(t, http.StatusNoContent, postMessage(t, ts.URL, host.srv.URL, profile.Encode(0x2002, profile.NewRecord(2, []byte("v2")))))

	require.Eventually(t, func() bool {
		e, _, status := fetch()
		return status == http.StatusOK && e.Version == 2
	}, 2*time.Second, 10*time.Millisecond, "eviction invalidates the cached entry")
}

func TestGetLocalIdentityBypassesCache(t *testing.T) {
	host := newFakeHost(t)
	p, ts := newTestPeer(t, host.srv.URL)
	p.base.Local.Save(profile.NewRecord(1, []byte("me")))

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/profiles/" + peerID.String())
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	}
}

func TestRegisterRetries(t *testing.T) {
	registerRetryDelay = time.Millisecond
	t.Cleanup(func() { registerRetryDelay = 400 * time.Millisecond })

	host := newFakeHost(t)
	host.failures.Store(2)
	p, _ := newTestPeer(t, host.srv.URL)
	p.base.Local.Save(profile.NewRecord(7, []byte("mine")))

	require.NoError(t, p.register(context.Background()))

	regs := host.registrations()
	require.Len(t, regs, 1)
	require.NotNil(t, regs[0].Profile)
	assert.Equal(t, int32(7), regs[0].Profile.Version)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, "session-1", p.sessionID)
}

func TestRegisterGivesUp(t *testing.T) {
	registerRetryDelay = time.Millisecond
	t.Cleanup(func() { registerRetryDelay = 400 * time.Millisecond })

	host := newFakeHost(t)
	host.failures.Store(registerAttempts + 1)
	p, _ := newTestPeer(t, host.srv.URL)

	err := p.register(context.Background())
	assert.ErrorContains(t, err, "failed to register with host")
}

func TestLeave(t *testing.T) {
	host := newFakeHost(t)
	p, _ := newTestPeer(t, host.srv.URL)

	p.leave(context.Background())

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Equal(t, []cluster.Identity{peerID}, host.leaves)
}
