package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir(), newTestLogger())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runStoreContract(t, factory(t))
		})
	}
}

func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "5511999999999")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Merge(ctx, "5511999999999", Patch{Login: Ptr("alice")})
	require.NoError(t, err)
	rec, err := s.Merge(ctx, "5511999999999", Patch{UserID: Ptr("42")})
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Login)
	assert.Equal(t, "42", rec.UserID)

	rec, err = s.Get(ctx, "5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", rec.CanonicalID)
	assert.Equal(t, "alice", rec.Login)
	assert.Equal(t, "42", rec.UserID)
	assert.False(t, rec.CreatedAt.IsZero())

	require.ErrorIs(t, s.RegisterAlias(ctx, "nobody", "x@telegram"), ErrNotFound)
	require.NoError(t, s.RegisterAlias(ctx, "5511999999999", "alice@telegram"))
	id, err := s.LookupAlias(ctx, "alice@telegram")
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", id)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.Remove(ctx, "5511999999999"))
	_, err = s.Get(ctx, "5511999999999")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.LookupAlias(ctx, "alice@telegram")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Merge(ctx, " ", Patch{})
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestStoreConcurrentMergesKeepEveryField(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := factory(t)
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, _ = s.Merge(ctx, "777777", Patch{Login: Ptr("bob")})
				}()
				go func(i int) {
					defer wg.Done()
					_, _ = s.Merge(ctx, "777777", Patch{Card: Ptr(fmt.Sprintf("card-%d", i))})
				}(i)
			}
			wg.Wait()
			rec, err := s.Get(ctx, "777777")
			require.NoError(t, err)
			assert.Equal(t, "bob", rec.Login)
			assert.NotEmpty(t, rec.Card)
		})
	}
}

func TestStoreStaleSessionClearSkipsNewerLogin(t *testing.T) {
	t.Parallel()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			runStaleSessionClear(t, factory(t), "5521988887777")
		})
	}
}

func runStaleSessionClear(t *testing.T, s Store, id string) {
	t.Helper()
	ctx := context.Background()
	loggedIn := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	stale, err := s.Merge(ctx, id, Patch{Login: Ptr("carol"), SessionID: Ptr("old"), LoginTime: Ptr(loggedIn)})
	require.NoError(t, err)

	// The user logs in again before the expired session is cleared.
	_, err = s.Merge(ctx, id, Patch{SessionID: Ptr("new"), LoginTime: Ptr(loggedIn.Add(25 * time.Hour))})
	require.NoError(t, err)

	rec, err := s.Merge(ctx, id, ClearStaleSession(stale))
	require.NoError(t, err)
	assert.Equal(t, "new", rec.SessionID)
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", got.SessionID)
	assert.Equal(t, "carol", got.Login)

	rec, err = s.Merge(ctx, id, ClearStaleSession(got))
	require.NoError(t, err)
	assert.Empty(t, rec.SessionID)
	assert.True(t, rec.LoginTime.IsZero())
	assert.Equal(t, "carol", rec.Login)

	_, err = s.Merge(ctx, id+"0", ClearStaleSession(stale))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, id+"0")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreMigratesLegacyRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	legacy := "number: 5511999999999@s.whatsapp.net\nlogin: alice\nuserId: \"42\"\nsessionId: abc\ncard: null\nloginTime: 1700000000000\n"
	raw := "5511999999999@s.whatsapp.net"
	require.NoError(t, os.WriteFile(filepath.Join(dir, raw+".yml"), []byte(legacy), 0o600))

	s, err := NewFileStore(dir, newTestLogger())
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := s.MigrateLegacy(ctx, raw, "5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Login)
	assert.Equal(t, "42", rec.UserID)
	assert.Equal(t, "abc", rec.SessionID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), rec.LoginTime)

	_, err = os.Stat(filepath.Join(dir, raw+".yml"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "legacy file should be removed")

	rec, err = s.Get(ctx, "5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Login)

	_, err = s.MigrateLegacy(ctx, "other@s.whatsapp.net", "123456789")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStorePersistsAliasesAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewFileStore(dir, newTestLogger())
	require.NoError(t, err)
	_, err = s.Merge(ctx, "123456789", Patch{Login: Ptr("carol")})
	require.NoError(t, err)
	require.NoError(t, s.RegisterAlias(ctx, "123456789", "carol@telegram"))

	reopened, err := NewFileStore(dir, newTestLogger())
	require.NoError(t, err)
	id, err := reopened.LookupAlias(ctx, "carol@telegram")
	require.NoError(t, err)
	assert.Equal(t, "123456789", id)
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(ctx, "memory://", newTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	dir := t.TempDir()
	s, err = Open(ctx, "file://"+dir, newTestLogger())
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, fs.dir)

	_, err = Open(ctx, "redis://localhost", newTestLogger())
	require.Error(t, err)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	t.Parallel()

	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected no retained locks, got %d", len(k.locks))
	}
}
