// ABOUTME: Tests for SQLite-backed credential resolution and user provisioning
// ABOUTME: Covers the resolve/issue round-trip law, atomicity, and races

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestProvision_CreatesUserAppAndKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user, key, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)

	assert.Equal(t, "drew", user.UserRef)
	assert.Equal(t, "Drew", user.Name)
	assert.NotEmpty(t, user.ID)
	assert.True(t, strings.HasPrefix(key, "om_"), "key should carry the om_ prefix")
	assert.Len(t, key, len("om_")+32)

	// Default workspace exists
	apps, err := s.ListApps(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, DefaultAppName, apps[0].Name)
	assert.True(t, apps[0].IsActive)
}

func TestProvision_DisplayNameDefaultsToRef(t *testing.T) {
	s := setupTestStore(t)

	user, _, err := s.Provision(context.Background(), "casey", "")
	require.NoError(t, err)
	assert.Equal(t, "casey", user.Name)
}

func TestProvision_RepeatFailsWithAlreadyExists(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)

	_, _, err = s.Provision(ctx, "drew", "Drew")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestProvision_EmptyRefRejected(t *testing.T) {
	s := setupTestStore(t)

	_, _, err := s.Provision(context.Background(), "", "Nobody")
	require.Error(t, err)
}

func TestResolveKey_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user, key, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)

	resolved, err := s.ResolveKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, "drew", resolved.UserRef)
	assert.NotNil(t, resolved.LastActive, "resolve should bump last_active")
}

func TestResolveKey_UnknownKey(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.ResolveKey(context.Background(), "om_nosuchkeynosuchkeynosuchkey000")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestResolveKey_DeactivatedKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user, key, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)

	n, err := s.DeactivateKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ResolveKey(ctx, key)
	assert.ErrorIs(t, err, ErrCredentialInactive)

	// The user record is untouched by deactivation.
	got, err := s.GetUserByRef(ctx, "drew")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestProvision_AfterRevocationIssuesFreshKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user, oldKey, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)

	_, err = s.DeactivateKeys(ctx, user.ID)
	require.NoError(t, err)

	again, newKey, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID, "re-provision must reuse the identity")
	assert.NotEqual(t, oldKey, newKey)

	resolved, err := s.ResolveKey(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	// No second default app was created.
	apps, err := s.ListApps(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestIssueKey_SecondKeyResolvesToSameUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user, first, err := s.Provision(ctx, "drew", "Drew")
	require.NoError(t, err)

	second, err := s.IssueKey(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	resolved, err := s.ResolveKey(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestProvision_ConcurrentSameRef(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	keys := make([]string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, keys[i], errs[i] = s.Provision(ctx, "racer", "Racer")
		}(i)
	}
	wg.Wait()

	var wins int
	for i, err := range errs {
		if err == nil {
			wins++
			resolved, rerr := s.ResolveKey(ctx, keys[i])
			require.NoError(t, rerr)
			assert.Equal(t, "racer", resolved.UserRef)
		} else {
			assert.ErrorIs(t, err, ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, wins, "exactly one provision must win")

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProvision_DistinctRefsAreIsolated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	alice, aliceKey, err := s.Provision(ctx, "alice", "Alice")
	require.NoError(t, err)
	bob, bobKey, err := s.Provision(ctx, "bob", "Bob")
	require.NoError(t, err)

	assert.NotEqual(t, alice.ID, bob.ID)
	assert.NotEqual(t, aliceKey, bobKey)

	gotAlice, err := s.ResolveKey(ctx, aliceKey)
	require.NoError(t, err)
	gotBob, err := s.ResolveKey(ctx, bobKey)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, gotAlice.ID)
	assert.Equal(t, bob.ID, gotBob.ID)
}

func TestListUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.Provision(ctx, fmt.Sprintf("user-%d", i), "")
		require.NoError(t, err)
	}

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetUserByRef_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetUserByRef(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashKey_Deterministic(t *testing.T) {
	h1 := HashKey("om_abc")
	h2 := HashKey("om_abc")
	h3 := HashKey("om_abd")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64, "hex SHA-256 digest")
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("drew")
	km.mu.Lock()
	assert.Len(t, km.locks, 1)
	km.mu.Unlock()

	unlock()
	km.mu.Lock()
	assert.Empty(t, km.locks, "released keys should not linger")
	km.mu.Unlock()
}

func TestKeyedMutex_WaiterKeepsEntryAlive(t *testing.T) {
	var km keyedMutex

	unlock := km.lock("drew")

	acquired := make(chan func())
	go func() {
		acquired <- km.lock("drew")
	}()

	// The waiter has registered; releasing the first hold must hand the
	// key over instead of deleting it out from under the waiter.
	for {
		km.mu.Lock()
		refs := 0
		if l, ok := km.locks["drew"]; ok {
			refs = l.refs
		}
		km.mu.Unlock()
		if refs == 2 {
			break
		}
	}

	unlock()
	second := <-acquired
	second()

	km.mu.Lock()
	assert.Empty(t, km.locks)
	km.mu.Unlock()
}

func TestProvision_DistinctRefsDoNotAccumulateLocks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _, err := s.Provision(ctx, fmt.Sprintf("ref-%d", i), "")
		require.NoError(t, err)
	}

	s.provisionMu.mu.Lock()
	n := len(s.provisionMu.locks)
	s.provisionMu.mu.Unlock()
	assert.Zero(t, n, "per-ref locks should be released after provisioning")
}
