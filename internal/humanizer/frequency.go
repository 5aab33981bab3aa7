package humanizer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/mingle/internal/config"
)

type freqState struct {
	lastSpeak         time.Time
	consecutiveNoReply int
}

// Frequency decides whether the bot speaks at all this turn and how long
// it pretends to type. One instance serves all sessions.
type Frequency struct {
	cfg config.FrequencyConfig

	mu    sync.Mutex
	state map[string]*freqState

	now  func() time.Time
	rand func() float64
	rng  *rand.Rand
}

func NewFrequency(cfg config.FrequencyConfig) *Frequency {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Frequency{
		cfg:   cfg,
		state: make(map[string]*freqState),
		now:   time.Now,
		rand:  rng.Float64,
		rng:   rng,
	}
}

// ShouldSpeak rolls the speak gate for a session. A refusal bumps the
// consecutive-silence counter, which raises the odds next time.
func (f *Frequency) ShouldSpeak(sessionID string) bool {
	if !f.cfg.Enabled {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	st := f.state[sessionID]
	if st == nil {
		st = &freqState{}
		f.state[sessionID] = st
	}

	now := f.now()
	minInterval := time.Duration(f.cfg.MinIntervalMs) * time.Millisecond
	if !st.lastSpeak.IsZero() && now.Sub(st.lastSpeak) < minInterval {
		return false
	}

	p := f.cfg.SpeakProbability
	if f.inQuietHours(now.Hour()) {
		p *= f.cfg.QuietProbabilityMultiplier
	}
	if n := st.consecutiveNoReply; n >= 3 {
		p += 0.2 * float64(n-2)
		if p > 1 {
			p = 1
		}
	}

	if f.rand() >= p {
		st.consecutiveNoReply++
		return false
	}
	return true
}

// RecordSpeak marks that the bot actually sent something.
func (f *Frequency) RecordSpeak(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state[sessionID]
	if st == nil {
		st = &freqState{}
		f.state[sessionID] = st
	}
	st.lastSpeak = f.now()
	st.consecutiveNoReply = 0
}

// TypingDelay fakes human typing speed for a line of text. Display width
// drives the per-character cost so CJK text types slower than ASCII.
func (f *Frequency) TypingDelay(text string) time.Duration {
	width := runewidth.StringWidth(text)
	base := 1000 + f.rng.Intn(2001)    // 1000–3000 ms
	perChar := 50 + f.rng.Intn(51)     // 50–100 ms
	d := time.Duration(base+width*perChar) * time.Millisecond
	if maxd := time.Duration(f.cfg.MaxIntervalMs) * time.Millisecond; maxd > 0 && d > maxd {
		d = maxd
	}
	return d
}

// inQuietHours treats [start, end) as a wrapped interval modulo 24, so
// start=23 end=6 covers the night. start==end means no quiet hours.
func (f *Frequency) inQuietHours(hour int) bool {
	start, end := f.cfg.QuietHoursStart%24, f.cfg.QuietHoursEnd%24
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
