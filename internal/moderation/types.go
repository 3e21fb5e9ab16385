package moderation

import "time"

// Outcome is the result of applying the posting policy to one message.
type Outcome int

const (
	Accepted Outcome = iota
	RateLimited
	Muted
	MutedForViolation
	BannedForViolations
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RateLimited:
		return "rate_limited"
	case Muted:
		return "muted"
	case MutedForViolation:
		return "muted_for_violation"
	case BannedForViolations:
		return "banned_for_violations"
	default:
		return "unknown"
	}
}

// Verdict carries an Outcome and the values needed to explain it.
type Verdict struct {
	Outcome    Outcome
	Remaining  time.Duration // Muted: time left on the current mute
	Mute       time.Duration // MutedForViolation, BannedForViolations: mute just applied
	Violations int           // violation count after this message
	Limit      int
	BanUntil   time.Time // BannedForViolations: when the IP ban expires
}

// Err maps the verdict to its user-facing error, or nil when accepted.
func (v Verdict) Err() error {
	switch v.Outcome {
	case RateLimited:
		return ErrRateLimited
	case Muted:
		return &MutedError{Remaining: v.Remaining}
	case MutedForViolation:
		return &ViolationError{Duration: v.Mute, Count: v.Violations, Limit: v.Limit}
	case BannedForViolations:
		return ErrBannedForViolations
	default:
		return nil
	}
}
