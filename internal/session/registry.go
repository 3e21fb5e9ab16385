package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/whisper/lobby/internal/chat"
)

// MaxNicknameChars is the longest accepted nickname, in runes.
const MaxNicknameChars = 32

var (
	// ErrNicknameTaken rejects a nickname already held by an online user.
	ErrNicknameTaken = errors.New("this nickname is already taken")

	// ErrNicknameForbidden rejects a blacklisted nickname.
	ErrNicknameForbidden = errors.New("this nickname is not allowed")

	// ErrNicknameInvalid rejects an empty or overlong nickname, or one that
	// would break the history file format.
	ErrNicknameInvalid = errors.New("nickname must be 1-32 characters without ':' or control characters")
)

// DefaultNicknameBlacklist lists nicknames nobody may claim. Matching is
// case-insensitive.
var DefaultNicknameBlacklist = []string{
	"admin", "root", "system", "broadcast", "server", "guest", "anonymous",
	"bot", "spammer", "virus", "hacker", chat.SystemAuthor, "⚠️", "❌",
}

// Registry is the set of online nicknames. Claim validates and inserts under
// one lock, so two concurrent joiners can never both hold a nickname.
type Registry struct {
	mu        sync.Mutex
	online    map[string]struct{}
	blacklist map[string]struct{}
}

// NewRegistry creates an empty Registry. A nil blacklist selects
// DefaultNicknameBlacklist. The system author is always forbidden.
func NewRegistry(blacklist []string) *Registry {
	if blacklist == nil {
		blacklist = DefaultNicknameBlacklist
	}
	r := &Registry{
		online:    make(map[string]struct{}),
		blacklist: make(map[string]struct{}, len(blacklist)+1),
	}
	for _, n := range blacklist {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			r.blacklist[n] = struct{}{}
		}
	}
	r.blacklist[chat.SystemAuthor] = struct{}{}
	return r
}

// Claim registers nickname as online. It fails with ErrNicknameInvalid,
// ErrNicknameTaken or ErrNicknameForbidden, checked in that order.
func (r *Registry) Claim(nickname string) error {
	if !validNickname(nickname) {
		return ErrNicknameInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.online[nickname]; ok {
		return ErrNicknameTaken
	}
	if _, ok := r.blacklist[strings.ToLower(nickname)]; ok {
		return ErrNicknameForbidden
	}
	r.online[nickname] = struct{}{}
	return nil
}

// Release removes nickname. It reports whether the nickname was online.
func (r *Registry) Release(nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.online[nickname]; !ok {
		return false
	}
	delete(r.online, nickname)
	return true
}

// Online returns the online nicknames in sorted order.
func (r *Registry) Online() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.online))
	for n := range r.online {
		out = append(out, n)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

// Count returns the number of online nicknames.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online)
}

func validNickname(n string) bool {
	if n == "" || !utf8.ValidString(n) || utf8.RuneCountInString(n) > MaxNicknameChars {
		return false
	}
	if strings.TrimSpace(n) != n {
		return false
	}
	for _, r := range n {
		if r == ':' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
