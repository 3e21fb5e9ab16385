package moderation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited rejects a message sent within the spam interval.
	ErrRateLimited = errors.New("you are sending messages too often, wait a moment")

	// ErrBannedForViolations ends a session that reached the violation limit.
	ErrBannedForViolations = errors.New("removed from the chat for repeated violations")
)

// MutedError rejects a message from a muted nickname.
type MutedError struct {
	Remaining time.Duration
}

func (e *MutedError) Error() string {
	return fmt.Sprintf("you are muted, %d seconds remaining", seconds(e.Remaining))
}

// ViolationError reports that a message contained a prohibited term and the
// sender was muted.
type ViolationError struct {
	Duration time.Duration
	Count    int
	Limit    int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("your message contains prohibited words, muted for %d seconds (%d/%d violations)",
		seconds(e.Duration), e.Count, e.Limit)
}

// IPBannedError rejects a join from a banned address.
type IPBannedError struct {
	Remaining time.Duration
}

func (e *IPBannedError) Error() string {
	return fmt.Sprintf("your IP address is banned, %d seconds remaining", seconds(e.Remaining))
}

// seconds truncates d to whole seconds.
func seconds(d time.Duration) int {
	return int(d / time.Second)
}
