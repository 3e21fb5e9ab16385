// Package session runs one chat session per connected user against the
// shared log, nickname registry and moderator. A session moves through
// Joining, Active, Terminating and Closed; while Active a catch-up goroutine
// tails the log and forwards other users' events to the session's display.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/lobby/internal/audit"
	"github.com/whisper/lobby/internal/chat"
	"github.com/whisper/lobby/internal/metrics"
	"github.com/whisper/lobby/internal/moderation"
)

// DefaultCatchUpInterval is how often a session polls the log.
const DefaultCatchUpInterval = time.Second

// Reasons a session ended, as passed to Display.Closed and the audit log.
const (
	ReasonLeft         = "left"
	ReasonBanned       = "banned"
	ReasonEvicted      = "evicted"
	ReasonDisconnected = "disconnected"
	ReasonIPBanned     = "ip_banned"
)

// ErrEvicted is the cancellation cause for sessions sharing an address with
// a session that was just banned.
var ErrEvicted = errors.New("session: address banned")

// Sink receives every event appended to the log, e.g. the history file or
// the message bus. Failures are audited and otherwise ignored.
type Sink interface {
	Append(ev chat.ChatEvent) error
}

// Config holds lobby tunables.
type Config struct {
	CatchUpInterval time.Duration // catch-up poll cadence
	ReplayLimit     int           // most recent events replayed to a new arrival
	ServerName      string        // stamped on audit entries
}

// Lobby owns the shared chat state and runs sessions against it.
type Lobby struct {
	log      *chat.Log
	registry *Registry
	mod      *moderation.Moderator
	sinks    []Sink
	audit    audit.Recorder
	cfg      Config
	now      func() time.Time

	mu   sync.Mutex
	byIP map[string]map[*Session]context.CancelCauseFunc
}

// Option configures a Lobby.
type Option func(*Lobby)

// WithSinks adds event sinks.
func WithSinks(sinks ...Sink) Option {
	return func(l *Lobby) { l.sinks = append(l.sinks, sinks...) }
}

// WithAudit sets the audit recorder.
func WithAudit(r audit.Recorder) Option {
	return func(l *Lobby) { l.audit = r }
}

// WithClock replaces time.Now for event timestamps and audit entries.
func WithClock(now func() time.Time) Option {
	return func(l *Lobby) { l.now = now }
}

// NewLobby creates a Lobby. Zero config values select the defaults.
func NewLobby(log *chat.Log, registry *Registry, mod *moderation.Moderator, cfg Config, opts ...Option) *Lobby {
	if cfg.CatchUpInterval <= 0 {
		cfg.CatchUpInterval = DefaultCatchUpInterval
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = chat.MaxMessages
	}
	l := &Lobby{
		log:      log,
		registry: registry,
		mod:      mod,
		audit:    audit.Nop{},
		cfg:      cfg,
		now:      time.Now,
		byIP:     make(map[string]map[*Session]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the nickname registry.
func (l *Lobby) Registry() *Registry {
	return l.registry
}

// Log returns the shared event log.
func (l *Lobby) Log() *chat.Log {
	return l.log
}

// Sessions returns the number of active sessions.
func (l *Lobby) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.byIP {
		n += len(m)
	}
	return n
}

// Session is one joined user.
type Session struct {
	lobby    *Lobby
	nickname string
	ip       string
	display  Display
	cursor   *chat.Cursor
	joinedAt uint64 // log position of the session's own join announcement
}

// Run drives a session for a user connecting from clientIP until it closes.
// A banned address is turned away before anything else. Otherwise the
// retained history is replayed, a nickname is claimed and the session stays
// active until the user leaves, is banned, or ctx is cancelled. Teardown
// always runs once the session became active.
//
// Run returns an *moderation.IPBannedError for a banned address, nil when
// the user left or the session ended normally, and the display's error when
// the user disconnected before joining.
func (l *Lobby) Run(ctx context.Context, clientIP string, d Display) error {
	if err := l.checkJoin(ctx, clientIP, d); err != nil {
		return err
	}

	// The catch-up cursor is registered only after the join, so an arrival
	// idling at the prompt never holds back truncation.
	history, next := l.log.Snapshot()
	if n := l.cfg.ReplayLimit; len(history) > n {
		history = history[len(history)-n:]
	}
	for _, ev := range history {
		if err := d.AppendLine(ev.Author, ev.Body); err != nil {
			return fmt.Errorf("session: replay history: %w", err)
		}
	}

	var claimed string
	_, err := d.PromptJoin(ctx, func(nickname string) error {
		nickname = strings.TrimSpace(nickname)
		if err := l.registry.Claim(nickname); err != nil {
			return err
		}
		claimed = nickname
		return nil
	})
	if err != nil {
		if claimed != "" {
			l.registry.Release(claimed)
		}
		if errors.Is(err, ErrLeft) {
			_ = d.Closed(ReasonLeft, true)
			return nil
		}
		return err
	}
	if claimed == "" {
		return errors.New("session: display returned without a claimed nickname")
	}

	// The address may have been banned while the user was picking a name.
	if err := l.checkJoin(ctx, clientIP, d); err != nil {
		l.registry.Release(claimed)
		return err
	}

	cursor := l.log.CursorAt(next)
	defer cursor.Close()

	s := &Session{
		lobby:    l,
		nickname: claimed,
		ip:       clientIP,
		display:  d,
		cursor:   cursor,
	}

	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	l.track(s, cancel)
	reason := s.run(sctx)
	l.untrack(s)

	s.teardown(context.WithoutCancel(ctx), reason)
	return nil
}

func (l *Lobby) checkJoin(ctx context.Context, clientIP string, d Display) error {
	err := l.mod.CheckJoin(ctx, clientIP)
	if err == nil {
		return nil
	}

	var remaining time.Duration
	var banned *moderation.IPBannedError
	if errors.As(err, &banned) {
		remaining = banned.Remaining
	}

	metrics.JoinsTotal.WithLabelValues("ip_banned").Inc()
	zap.S().Warnf("[session] join denied ip=%s remaining=%s", clientIP, remaining)
	l.record(ctx, audit.Entry{
		Kind:    audit.KindJoinDenied,
		IP:      clientIP,
		Reason:  ReasonIPBanned,
		Seconds: int64(remaining / time.Second),
	})

	_ = d.Notify(err.Error(), SeverityError)
	_ = d.Closed(ReasonIPBanned, false)
	return err
}

// run is the Active state. It returns why the session ended.
func (s *Session) run(ctx context.Context) string {
	l := s.lobby

	join := chat.JoinEvent(s.nickname, l.now().Unix())
	s.joinedAt = l.publish(ctx, s, join)
	_ = s.display.AppendLine(join.Author, join.Body)

	metrics.JoinsTotal.WithLabelValues("joined").Inc()
	metrics.OnlineUsers.Set(float64(l.registry.Count()))
	zap.S().Infof("[session] %s (%s) joined", s.nickname, s.ip)
	l.record(ctx, audit.Entry{Kind: audit.KindJoin, Nickname: s.nickname, IP: s.ip})

	catchCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.catchUp(catchCtx)
	}()
	defer func() {
		stop()
		<-done
	}()

	for {
		sub, err := s.display.PromptMessage(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrLeft):
				return ReasonLeft
			case errors.Is(context.Cause(ctx), ErrEvicted):
				return ReasonEvicted
			default:
				return ReasonDisconnected
			}
		}
		if sub.Leave {
			return ReasonLeft
		}
		if s.submit(ctx, sub.Body) {
			return ReasonBanned
		}
	}
}

// submit applies validation and the posting policy to one message. It
// reports whether the sender was banned.
func (s *Session) submit(ctx context.Context, body string) bool {
	l := s.lobby
	start := time.Now()
	defer func() {
		metrics.MessageLatency.Observe(time.Since(start).Seconds())
	}()

	if err := chat.ValidateMessage(body); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		_ = s.display.Notify(err.Error(), SeverityWarning)
		return false
	}

	// A ban must be recorded even if the connection drops mid-evaluation.
	v, err := l.mod.Evaluate(context.WithoutCancel(ctx), s.nickname, s.ip, body)
	if err != nil {
		zap.S().Errorf("[session] %s (%s): %v", s.nickname, s.ip, err)
	}
	metrics.MessagesTotal.WithLabelValues(v.Outcome.String()).Inc()

	switch v.Outcome {
	case moderation.Accepted:
		ev := chat.NewMessage(s.nickname, body, l.now().Unix())
		l.publish(ctx, s, ev)
		_ = s.display.AppendLine(ev.Author, ev.Body)

	case moderation.RateLimited, moderation.Muted:
		_ = s.display.Notify(v.Err().Error(), SeverityError)
		l.record(ctx, audit.Entry{
			Kind:     audit.KindRejected,
			Nickname: s.nickname,
			IP:       s.ip,
			Reason:   v.Outcome.String(),
			Seconds:  int64(v.Remaining / time.Second),
		})

	case moderation.MutedForViolation:
		_ = s.display.Notify(v.Err().Error(), SeverityError)
		zap.S().Warnf("[session] %s (%s) muted for %s (%d/%d)", s.nickname, s.ip, v.Mute, v.Violations, v.Limit)
		l.record(ctx, audit.Entry{
			Kind:     audit.KindMute,
			Nickname: s.nickname,
			IP:       s.ip,
			Reason:   moderation.ReasonProhibitedTerm,
			Seconds:  int64(v.Mute / time.Second),
			Count:    v.Violations,
		})

	case moderation.BannedForViolations:
		metrics.BansTotal.Inc()
		zap.S().Errorf("[session] %s (%s) banned for repeated violations until %s",
			s.nickname, s.ip, v.BanUntil.Format(time.RFC3339))
		l.record(ctx, audit.Entry{
			Kind:     audit.KindBan,
			Nickname: s.nickname,
			IP:       s.ip,
			Reason:   moderation.ReasonViolations,
			Seconds:  int64(l.mod.Policy().BanDuration / time.Second),
			Count:    v.Violations,
		})
		if n := l.evict(s); n > 0 {
			zap.S().Infof("[session] evicted %d other session(s) from %s", n, s.ip)
		}
		return true
	}
	return false
}

// catchUp forwards other users' events to the display until ctx is done. It
// also runs log maintenance on each tick.
func (s *Session) catchUp(ctx context.Context) {
	t := time.NewTicker(s.lobby.cfg.CatchUpInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.deliver()
		}
	}
}

func (s *Session) deliver() {
	before := s.cursor.Missed()
	events := s.cursor.Next()
	first := s.cursor.Position() - uint64(len(events))
	for i, ev := range events {
		if s.echoed(first+uint64(i), ev) {
			continue
		}
		if err := s.display.AppendLine(ev.Author, ev.Body); err != nil {
			zap.S().Debugf("[session] deliver to %s: %v", s.nickname, err)
		}
	}
	if missed := s.cursor.Missed() - before; missed > 0 {
		metrics.MissedEventsTotal.Add(float64(missed))
		zap.S().Warnf("[session] %s missed %d events to truncation", s.nickname, missed)
	}

	if dropped := s.lobby.log.Maintain(); dropped > 0 {
		metrics.TruncationsTotal.Inc()
		metrics.LogLength.Set(float64(s.lobby.log.Len()))
		zap.S().Debugf("[session] truncated log, dropped=%d", dropped)
	}
}

// echoed reports whether the event at pos was already rendered locally: the
// session's own join line and its messages after it. Earlier events under the
// same nickname belong to a previous holder and are delivered.
func (s *Session) echoed(pos uint64, ev chat.ChatEvent) bool {
	if pos == s.joinedAt {
		return true
	}
	return pos > s.joinedAt && ev.Author == s.nickname
}

// teardown is the Terminating state. Every step is best-effort.
func (s *Session) teardown(ctx context.Context, reason string) {
	l := s.lobby

	s.cursor.Close()
	l.registry.Release(s.nickname)
	metrics.OnlineUsers.Set(float64(l.registry.Count()))

	leave := chat.LeaveEvent(s.nickname, l.now().Unix())
	l.publish(ctx, s, leave)

	zap.S().Infof("[session] %s (%s) left reason=%s", s.nickname, s.ip, reason)
	l.record(ctx, audit.Entry{Kind: audit.KindLeave, Nickname: s.nickname, IP: s.ip, Reason: reason})

	_ = s.display.AppendLine(leave.Author, leave.Body)

	canRejoin := true
	switch reason {
	case ReasonBanned:
		canRejoin = false
		_ = s.display.Notify(fmt.Sprintf(
			"You have been removed from the chat for repeated violations. Your IP address is banned for %s.",
			humanDuration(l.mod.Policy().BanDuration)), SeverityError)
	case ReasonEvicted:
		canRejoin = false
		_ = s.display.Notify("Your IP address has been banned. You have been removed from the chat.", SeverityError)
	default:
		_ = s.display.Notify("You left the chat.", SeverityInfo)
	}
	_ = s.display.Closed(reason, canRejoin)
}

// publish appends ev to the log, hands it to every sink and returns its log
// position.
func (l *Lobby) publish(ctx context.Context, s *Session, ev chat.ChatEvent) uint64 {
	pos := l.log.Append(ev)
	metrics.LogLength.Set(float64(l.log.Len()))

	for _, sink := range l.sinks {
		if err := sink.Append(ev); err != nil {
			metrics.PersistFailuresTotal.Inc()
			l.record(ctx, audit.Entry{
				Kind:     audit.KindPersistFailure,
				Nickname: s.nickname,
				IP:       s.ip,
				Reason:   err.Error(),
			})
		}
	}
	return pos
}

func (l *Lobby) record(ctx context.Context, e audit.Entry) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	if e.Server == "" {
		e.Server = l.cfg.ServerName
	}
	l.audit.Record(ctx, e)
}

func (l *Lobby) track(s *Session, cancel context.CancelCauseFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byIP[s.ip]
	if !ok {
		m = make(map[*Session]context.CancelCauseFunc)
		l.byIP[s.ip] = m
	}
	m[s] = cancel
}

func (l *Lobby) untrack(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.byIP[s.ip]
	delete(m, s)
	if len(m) == 0 {
		delete(l.byIP, s.ip)
	}
}

// evict cancels every other active session from s's address.
func (l *Lobby) evict(s *Session) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for other, cancel := range l.byIP[s.ip] {
		if other != s {
			cancel(ErrEvicted)
			n++
		}
	}
	return n
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}
