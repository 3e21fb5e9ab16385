package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore connects to the database named by AUDIT_TEST_DATABASE_URL
// and applies migrations. Skips if it is unset or unreachable.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("AUDIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUDIT_TEST_DATABASE_URL not set")
	}

	db, err := Open(context.Background(), url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, Migrate(url))

	t.Cleanup(func() {
		db.Exec(`DELETE FROM audit_events WHERE ip LIKE 'test-%'`)
		db.Close()
	})
	return NewStore(db)
}

func TestStore_InsertAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ip := "test-" + time.Now().Format("150405.000000")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert(ctx, Entry{Kind: KindMute, Nickname: "alice", IP: ip, Seconds: 10, Count: i + 1}))
	}
	require.NoError(t, s.Insert(ctx, Entry{Kind: KindBan, Nickname: "alice", IP: ip, Seconds: 300, Count: 3}))

	n, err := s.CountRecent(ctx, ip, KindMute, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountRecent(ctx, ip, KindBan, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_InvalidKind(t *testing.T) {
	s := NewStore(nil)
	err := s.Insert(context.Background(), Entry{Kind: "bogus"})
	assert.Error(t, err)
}

func TestMigrate_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_audit_events.up.sql")
	assert.Contains(t, names, "000001_create_audit_events.down.sql")
}
