package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/metrics"
	"github.com/dreamware/profilesync/internal/profile"
	"github.com/dreamware/profilesync/internal/storage"
)

const localID cluster.Identity = 0xAAAA

type countingHook struct{ calls atomic.Int32 }

func (h *countingHook) OnRegistryMutated() { h.calls.Add(1) }

type testEnv struct {
	reg     *Registry
	local   *profile.LocalStore
	session *cluster.Session
	hook    *countingHook
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, role cluster.Role) testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	local := profile.NewLocalStore(storage.NewMemoryStore(), "", log)
	session := cluster.NewSession(role)
	session.Activate()
	hook := &countingHook{}
	m := metrics.New(prometheus.NewRegistry())
	return testEnv{
		reg:     New(localID, local, session, hook, log, m),
		local:   local,
		session: session,
		hook:    hook,
		metrics: m,
	}
}

func rec(version int32, payload string) profile.Record {
	return profile.NewRecord(version, []byte(payload))
}

// TestUpsertThenGet verifies that any non-local identity reads back what was stored.
func TestUpsertThenGet(t *testing.T) {
	env := newTestEnv(t, cluster.RoleHost)

	for i := cluster.Identity(1); i <= 10; i++ {
		require.True(t, env.reg.Upsert(i, rec(int32(i), fmt.Sprintf("p%d", i))))
	}

	for i := cluster.Identity(1); i <= 10; i++ {
		got, ok := env.reg.Get(i)
		require.True(t, ok)
		assert.True(t, rec(int32(i), fmt.Sprintf("p%d", i)).Equal(got))
	}
	assert.Equal(t, 10, env.reg.Len())
	assert.Equal(t, int32(10), env.hook.calls.Load())
	assert.Equal(t, 10.0, testutil.ToFloat64(env.metrics.RegistryEntries))
}

func TestGetMissing(t *testing.T) {
	env := newTestEnv(t, cluster.RoleHost)
	_, ok := env.reg.Get(0x1234)
	assert.False(t, ok)
}

// TestUpsertLocalIdentityIsNoop checks the self-record never enters the map.
func TestUpsertLocalIdentityIsNoop(t *testing.T) {
	env := newTestEnv(t, cluster.RolePeer)
	env.reg.Upsert(0x1001, rec(1, "x"))

	assert.False(t, env.reg.Upsert(localID, rec(9, "self")))
	assert.Equal(t, 1, env.reg.Len())
	assert.Equal(t, int32(1), env.hook.calls.Load(), "rejected upsert must not trigger maintenance")
	assert.NotContains(t, env.reg.Keys(), localID)

	_, ok := env.reg.Get(localID)
	assert.False(t, ok, "local record comes from the local store, which is empty")
}

func TestGetLocalIdentityReadsLocalStore(t *testing.T) {
	env := newTestEnv(t, cluster.RolePeer)

	env.local.Save(rec(2, "abc"))
	got, ok := env.reg.Get(localID)
	require.True(t, ok)
	assert.True(t, rec(2, "abc").Equal(got))

	env.local.Save(rec(3, "def"))
	got, ok = env.reg.Get(localID)
	require.True(t, ok)
	assert.Equal(t, int32(3), got.Version)
}

func TestSequentialUpdatesKeepLatest(t *testing.T) {
	env := newTestEnv(t, cluster.RolePeer)

	env.reg.Upsert(0x1001, rec(1, "first"))
	env.reg.Upsert(0x1001, rec(2, "second"))

	got, ok := env.reg.Get(0x1001)
	require.True(t, ok)
	assert.Equal(t, int32(2), got.Version)
	assert.Equal(t, 1, env.reg.Len())
}

func TestStoredRecordsAreIsolated(t *testing.T) {
	env := newTestEnv(t, cluster.RolePeer)
	payload := []byte("shared")
	env.reg.Upsert(1, profile.Record{Version: 1, Payload: payload})
	payload[0] = 'X'

	got, _ := env.reg.Get(1)
	assert.Equal(t, []byte("shared"), got.Payload)
	got.Payload[0] = 'Y'

	snap := env.reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []byte("shared"), snap[0].Record.Payload)
}

func TestSnapshotAndClear(t *testing.T) {
	env := newTestEnv(t, cluster.RoleHost)
	env.reg.Upsert(1, rec(1, "a"))
	env.reg.Upsert(2, rec(1, "b"))

	snap := env.reg.Snapshot()
	ids := []cluster.Identity{snap[0].ID, snap[1].ID}
	assert.ElementsMatch(t, []cluster.Identity{1, 2}, ids)

	env.reg.Clear()
	assert.Equal(t, 0, env.reg.Len())
	assert.Empty(t, env.reg.Snapshot())
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.RegistryEntries))

	// Snapshot taken before Clear is unaffected.
	assert.Len(t, snap, 2)
}

// TestSweep verifies that after a sweep the keys are a subset of the live set
// and that live entries are untouched.
func TestSweep(t *testing.T) {
	env := newTestEnv(t, cluster.RoleHost)
	env.reg.Upsert(1, rec(1, "a"))
	env.reg.Upsert(2, rec(2, "b"))
	env.reg.Upsert(3, rec(3, "c"))

	live := map[cluster.Identity]struct{}{1: {}, 3: {}, 99: {}}
	evicted := env.reg.Sweep(live)

	assert.Equal(t, []cluster.Identity{2}, evicted)
	for _, id := range env.reg.Keys() {
		assert.Contains(t, live, id)
	}
	got, ok := env.reg.Get(3)
	require.True(t, ok)
	assert.True(t, rec(3, "c").Equal(got))
}

func TestSweepEmptyLiveSetEvictsEverything(t *testing.T) {
	env := newTestEnv(t, cluster.RoleHost)
	env.reg.Upsert(1, rec(1, "a"))
	env.reg.Upsert(2, rec(2, "b"))

	evicted := env.reg.Sweep(nil)
	assert.ElementsMatch(t, []cluster.Identity{1, 2}, evicted)
	assert.Equal(t, 0, env.reg.Len())
}

func TestSweepOnlyOnActiveHost(t *testing.T) {
	t.Run("peer", func(t *testing.T) {
		env := newTestEnv(t, cluster.RolePeer)
		env.reg.Upsert(1, rec(1, "a"))
		assert.Nil(t, env.reg.Sweep(map[cluster.Identity]struct{}{}))
		assert.Equal(t, 1, env.reg.Len())
	})

	t.Run("inactive host", func(t *testing.T) {
		env := newTestEnv(t, cluster.RoleHost)
		env.reg.Upsert(1, rec(1, "a"))
		env.session.Deactivate()
		assert.Nil(t, env.reg.Sweep(map[cluster.Identity]struct{}{}))
		assert.Equal(t, 1, env.reg.Len())
	})
}

// TestConcurrentAccess exercises the single lock from many goroutines.
func TestConcurrentAccess(t *testing.T) {
	env := newTestEnv(t, cluster.RoleHost)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := cluster.Identity(g*1000 + i%20 + 1)
				env.reg.Upsert(id, rec(int32(i), "v"))
				env.reg.Get(id)
				env.reg.Snapshot()
				if i%50 == 0 {
					env.reg.Sweep(map[cluster.Identity]struct{}{id: {}})
				}
			}
		}(g)
	}
	wg.Wait()

	for _, e := range env.reg.Snapshot() {
		assert.NotEqual(t, localID, e.ID)
	}
}
