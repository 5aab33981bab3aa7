package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/onebot"
	"github.com/nextlevelbuilder/mingle/internal/store"
)

// Listener types.
const (
	ListenerNextUserMessage = "next_user_message"
	ListenerMessageCount    = "message_count"
)

const (
	defaultListenerTimeout = 10 * time.Minute
	maxListenerTimeout     = 30 * time.Minute
	// listenerCooldown blocks re-registration after a listener fires or
	// expires, so the model cannot chain-watch a chat indefinitely.
	listenerCooldown = 5 * time.Minute
)

// ErrListenerCooldown is returned by Register when the session's previous
// listener fired or expired too recently.
var ErrListenerCooldown = errors.New("listener cooldown active")

type listener struct {
	Type         string
	UserID       int64 // next_user_message filter, 0 for any sender
	Count        int
	CurrentCount int
	Reason       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Listeners holds at most one one-shot listener per session. Firing and
// expiring both start the re-registration cooldown.
type Listeners struct {
	mu        sync.Mutex
	active    map[string]*listener
	cooldowns map[string]time.Time
	now       func() time.Time
}

func NewListeners() *Listeners {
	return &Listeners{
		active:    make(map[string]*listener),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Register installs a listener for a session. Timeout zero means the
// default; anything above the maximum is clamped.
func (l *Listeners) Register(sessionID, typ string, userID int64, count int, reason string, timeout time.Duration) error {
	switch typ {
	case ListenerNextUserMessage:
	case ListenerMessageCount:
		if count < 1 {
			return fmt.Errorf("message_count listener needs count >= 1")
		}
	default:
		return fmt.Errorf("unknown listener type %q", typ)
	}
	if timeout <= 0 {
		timeout = defaultListenerTimeout
	}
	if timeout > maxListenerTimeout {
		timeout = maxListenerTimeout
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.cooldowns[sessionID]; ok {
		if now.Before(until) {
			return ErrListenerCooldown
		}
		delete(l.cooldowns, sessionID)
	}
	if cur, ok := l.active[sessionID]; ok && now.Before(cur.ExpiresAt) {
		return fmt.Errorf("a listener is already watching this session")
	}
	l.active[sessionID] = &listener{
		Type:      typ,
		UserID:    userID,
		Count:     count,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
	}
	return nil
}

// Match checks an inbound message against the session's listener. A hit
// consumes the listener and returns its registration reason.
func (l *Listeners) Match(ev *onebot.Event) (string, bool) {
	var sessionID string
	switch {
	case ev.IsGroupMessage():
		sessionID = store.GroupSessionID(ev.GroupID)
	case ev.IsPrivateMessage():
		sessionID = store.PersonalSessionID(ev.UserID)
	default:
		return "", false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.active[sessionID]
	if !ok {
		return "", false
	}
	now := l.now()
	if !now.Before(ln.ExpiresAt) {
		l.retireLocked(sessionID, now)
		slog.Info("listener expired", "session", sessionID, "reason", ln.Reason)
		return "", false
	}

	switch ln.Type {
	case ListenerNextUserMessage:
		if ln.UserID != 0 && ln.UserID != ev.UserID {
			return "", false
		}
	case ListenerMessageCount:
		ln.CurrentCount++
		if ln.CurrentCount < ln.Count {
			return "", false
		}
	}
	l.retireLocked(sessionID, now)
	return ln.Reason, true
}

// Sweep retires expired listeners; the janitor runs it periodically so
// quiet sessions do not hold state forever.
func (l *Listeners) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	purged := 0
	for id, ln := range l.active {
		if !now.Before(ln.ExpiresAt) {
			l.retireLocked(id, now)
			slog.Info("listener expired", "session", id, "reason", ln.Reason)
			purged++
		}
	}
	return purged
}

func (l *Listeners) retireLocked(sessionID string, now time.Time) {
	delete(l.active, sessionID)
	l.cooldowns[sessionID] = now.Add(listenerCooldown)
}
