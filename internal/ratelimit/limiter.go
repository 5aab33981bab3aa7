// Package ratelimit gates how often the bot reacts: a per-group cooldown
// between replies, a per-user trigger budget over a sliding window, and
// duplicate-content suppression.
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/mingle/internal/config"
)

// Verdict is the result of a limit check. Reason is set when denied.
type Verdict struct {
	OK     bool
	Reason string
}

func allow() Verdict        { return Verdict{OK: true} }
func deny(r string) Verdict { return Verdict{Reason: r} }

// Limiter tracks all three limits. Allow is a pure check; Record consumes
// budget once the bot commits to replying. The split lets the dispatcher
// run cheap gates first without burning tokens on messages it then drops.
type Limiter struct {
	cfg config.RateLimitConfig

	mu        sync.Mutex
	lastReply map[int64]time.Time     // group ID → last committed reply
	users     map[int64]*rate.Limiter // user ID → window budget
	userSeen  map[int64]time.Time     // user ID → last activity, for pruning
	dedup     map[string]time.Time    // user+content hash → last trigger

	now func() time.Time // test hook
}

func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:       cfg,
		lastReply: make(map[int64]time.Time),
		users:     make(map[int64]*rate.Limiter),
		userSeen:  make(map[int64]time.Time),
		dedup:     make(map[string]time.Time),
		now:       time.Now,
	}
}

// Allow reports whether a trigger from userID in groupID with the given
// content would pass all three limits right now. Nothing is consumed.
func (l *Limiter) Allow(groupID, userID int64, content string) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	cooldown := time.Duration(l.cfg.GroupCooldownMs) * time.Millisecond
	if last, ok := l.lastReply[groupID]; ok && now.Sub(last) < cooldown {
		return deny("group cooldown")
	}

	if lim, ok := l.users[userID]; ok && lim.TokensAt(now) < 1 {
		return deny("user window exhausted")
	}

	key := dedupKey(userID, content)
	dedupWindow := time.Duration(l.cfg.DedupWindowMs) * time.Millisecond
	if last, ok := l.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return deny("duplicate content")
	}

	return allow()
}

// Record consumes budget for a trigger the bot decided to act on: stamps
// the group cooldown, takes one token from the user's window, and
// remembers the content for dedup.
func (l *Limiter) Record(groupID, userID int64, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	l.lastReply[groupID] = now
	l.userLimiterLocked(userID).AllowN(now, 1)
	l.userSeen[userID] = now
	l.dedup[dedupKey(userID, content)] = now
}

func (l *Limiter) userLimiterLocked(userID int64) *rate.Limiter {
	lim, ok := l.users[userID]
	if !ok {
		window := time.Duration(l.cfg.WindowMs) * time.Millisecond
		per := rate.Every(window / time.Duration(max(l.cfg.MaxTriggersPerWindow, 1)))
		lim = rate.NewLimiter(per, max(l.cfg.MaxTriggersPerWindow, 1))
		l.users[userID] = lim
	}
	return lim
}

// Prune drops state that can no longer affect a verdict. Run it
// periodically; maps otherwise grow with every user ever seen.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	cooldown := time.Duration(l.cfg.GroupCooldownMs) * time.Millisecond
	for g, t := range l.lastReply {
		if now.Sub(t) > cooldown {
			delete(l.lastReply, g)
		}
	}
	window := time.Duration(l.cfg.WindowMs) * time.Millisecond
	for u, t := range l.userSeen {
		if now.Sub(t) > window {
			delete(l.users, u)
			delete(l.userSeen, u)
		}
	}
	dedupWindow := time.Duration(l.cfg.DedupWindowMs) * time.Millisecond
	for k, t := range l.dedup {
		if now.Sub(t) > dedupWindow {
			delete(l.dedup, k)
		}
	}
}

func dedupKey(userID int64, content string) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return fmt.Sprintf("%d:%x", userID, h.Sum64())
}
