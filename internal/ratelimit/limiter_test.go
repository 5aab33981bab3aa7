package ratelimit

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/config"
)

func testLimiter() (*Limiter, *time.Time) {
	l := New(config.RateLimitConfig{
		GroupCooldownMs:      3_000,
		WindowMs:             60_000,
		MaxTriggersPerWindow: 3,
		DedupWindowMs:        30_000,
	})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestGroupCooldown(t *testing.T) {
	l, now := testLimiter()

	if v := l.Allow(1, 10, "hi"); !v.OK {
		t.Fatalf("fresh limiter denied: %s", v.Reason)
	}
	l.Record(1, 10, "hi")

	if v := l.Allow(1, 11, "different"); v.OK {
		t.Error("reply inside cooldown should be denied")
	}
	// Other groups are unaffected.
	if v := l.Allow(2, 11, "different"); !v.OK {
		t.Errorf("other group denied: %s", v.Reason)
	}

	*now = now.Add(4 * time.Second)
	if v := l.Allow(1, 11, "different"); !v.OK {
		t.Errorf("after cooldown: %s", v.Reason)
	}
}

func TestUserWindow(t *testing.T) {
	l, now := testLimiter()

	for i := 0; i < 3; i++ {
		*now = now.Add(5 * time.Second) // clear group cooldown between triggers
		content := string(rune('a' + i))
		if v := l.Allow(1, 10, content); !v.OK {
			t.Fatalf("trigger %d denied: %s", i, v.Reason)
		}
		l.Record(1, 10, content)
	}

	*now = now.Add(5 * time.Second)
	if v := l.Allow(1, 10, "fourth"); v.OK {
		t.Error("fourth trigger inside window should be denied")
	} else if v.Reason != "user window exhausted" {
		t.Errorf("reason = %q", v.Reason)
	}

	// Another user still has budget.
	if v := l.Allow(1, 11, "x"); !v.OK {
		t.Errorf("other user denied: %s", v.Reason)
	}

	// Tokens recover as the window slides.
	*now = now.Add(60 * time.Second)
	if v := l.Allow(1, 10, "later"); !v.OK {
		t.Errorf("after window: %s", v.Reason)
	}
}

func TestContentDedup(t *testing.T) {
	l, now := testLimiter()

	l.Record(1, 10, "same thing")
	*now = now.Add(5 * time.Second)
	if v := l.Allow(1, 10, "same thing"); v.OK {
		t.Error("duplicate content inside dedup window should be denied")
	}
	// Same content from a different user is fine.
	if v := l.Allow(1, 11, "same thing"); !v.OK {
		t.Errorf("other user with same content: %s", v.Reason)
	}

	*now = now.Add(31 * time.Second)
	if v := l.Allow(1, 10, "same thing"); !v.OK {
		t.Errorf("after dedup window: %s", v.Reason)
	}
}

func TestAllowDoesNotConsume(t *testing.T) {
	l, _ := testLimiter()

	for i := 0; i < 10; i++ {
		if v := l.Allow(1, 10, "peek"); !v.OK {
			t.Fatalf("check %d consumed budget: %s", i, v.Reason)
		}
	}
}

func TestPrune(t *testing.T) {
	l, now := testLimiter()
	l.Record(1, 10, "hello")

	*now = now.Add(2 * time.Minute)
	l.Prune()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lastReply) != 0 || len(l.users) != 0 || len(l.dedup) != 0 {
		t.Errorf("prune left state: %d %d %d", len(l.lastReply), len(l.users), len(l.dedup))
	}
}
