package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/lobby/internal/chat"
)

func TestRegistry_Claim(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Claim("alice"))

	tests := []struct {
		name     string
		nickname string
		want     error
	}{
		{"taken", "alice", ErrNicknameTaken},
		{"different case is distinct", "Alice", nil},
		{"blacklisted", "admin", ErrNicknameForbidden},
		{"blacklisted upper case", "ADMIN", ErrNicknameForbidden},
		{"system author", chat.SystemAuthor, ErrNicknameForbidden},
		{"emoji blacklist", "❌", ErrNicknameForbidden},
		{"empty", "", ErrNicknameInvalid},
		{"colon", "a:b", ErrNicknameInvalid},
		{"newline", "a\nb", ErrNicknameInvalid},
		{"leading space", " bob", ErrNicknameInvalid},
		{"too long", strings.Repeat("x", MaxNicknameChars+1), ErrNicknameInvalid},
		{"max length", strings.Repeat("y", MaxNicknameChars), nil},
		{"unicode", "Вася", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Claim(tt.nickname)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegistry_CustomBlacklistKeepsSystemAuthor(t *testing.T) {
	r := NewRegistry([]string{" Moderator "})

	assert.ErrorIs(t, r.Claim("moderator"), ErrNicknameForbidden)
	assert.ErrorIs(t, r.Claim(chat.SystemAuthor), ErrNicknameForbidden)
	assert.NoError(t, r.Claim("admin"))
}

func TestRegistry_TakenCheckedBeforeBlacklist(t *testing.T) {
	r := NewRegistry([]string{"bob"})
	r.online["bob"] = struct{}{}
	assert.ErrorIs(t, r.Claim("bob"), ErrNicknameTaken)
}

func TestRegistry_ReleaseAndList(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Claim("carol"))
	require.NoError(t, r.Claim("alice"))
	require.NoError(t, r.Claim("bob"))

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Online())

	assert.True(t, r.Release("bob"))
	assert.False(t, r.Release("bob"))
	assert.Equal(t, []string{"alice", "carol"}, r.Online())
	assert.Equal(t, 2, r.Count())

	// A released nickname can be claimed again.
	assert.NoError(t, r.Claim("bob"))
}

func TestRegistry_ConcurrentClaim(t *testing.T) {
	r := NewRegistry(nil)

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		taken   int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := r.Claim("dave")
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				success++
			case ErrNicknameTaken:
				taken++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, taken)
	assert.Equal(t, 1, r.Count())
}
