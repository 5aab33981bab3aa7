// Package skills holds the global skill catalog and the per-session
// loaded-skill state. Loaded skills expire an hour after loading; expired
// entries are dropped lazily on access and swept periodically.
package skills

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/mingle/internal/tools"
)

// SessionTTL is how long a loaded skill's tools stay visible.
const SessionTTL = time.Hour

// SkillSession is one loaded skill inside one chat session. Tool keys are
// fully qualified as "skill.tool".
type SkillSession struct {
	SkillName string
	Tools     map[string]*tools.Tool
	LoadedAt  time.Time
	ExpiresAt time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	skills   map[string]*tools.Skill              // process-lifetime
	sessions map[string]map[string]*SkillSession  // session ID → skill name → session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		skills:   make(map[string]*tools.Skill),
		sessions: make(map[string]map[string]*SkillSession),
		now:      time.Now,
	}
}

// Register adds a skill to the global catalog. Re-registering a name
// replaces the previous skill; already-loaded sessions keep their copy.
func (r *Registry) Register(s *tools.Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name] = s
}

// List returns the global skills sorted by name.
func (r *Registry) List() []*tools.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*tools.Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load copies a skill's tools into the session under qualified names and
// starts the TTL clock. Reloading refreshes the expiry.
func (r *Registry) Load(sessionID, skillName string) (*SkillSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	skill, ok := r.skills[skillName]
	if !ok {
		return nil, fmt.Errorf("skills: unknown skill %q", skillName)
	}

	now := r.now()
	ss := &SkillSession{
		SkillName: skillName,
		Tools:     make(map[string]*tools.Tool, len(skill.Tools)),
		LoadedAt:  now,
		ExpiresAt: now.Add(SessionTTL),
	}
	for _, t := range skill.Tools {
		ss.Tools[skillName+"."+t.Name] = t
	}

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]*SkillSession)
	}
	r.sessions[sessionID][skillName] = ss
	slog.Debug("skill loaded", "session", sessionID, "skill", skillName, "tools", len(ss.Tools))
	return ss, nil
}

// Unload removes a loaded skill from the session. Unloading a skill that
// is not loaded is a no-op.
func (r *Registry) Unload(sessionID, skillName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.sessions[sessionID]; m != nil {
		delete(m, skillName)
		if len(m) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// SessionTools returns the union of non-expired loaded tools for the
// session, keyed by qualified name. Expired skills are dropped here.
func (r *Registry) SessionTools(sessionID string) map[string]*tools.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.sessions[sessionID]
	if len(m) == 0 {
		return nil
	}
	now := r.now()
	out := make(map[string]*tools.Tool)
	for name, ss := range m {
		if now.After(ss.ExpiresAt) {
			delete(m, name)
			continue
		}
		for qualified, t := range ss.Tools {
			out[qualified] = t
		}
	}
	if len(m) == 0 {
		delete(r.sessions, sessionID)
	}
	return out
}

// Loaded returns the names of currently loaded, non-expired skills.
func (r *Registry) Loaded(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []string
	for name, ss := range r.sessions[sessionID] {
		if now.After(ss.ExpiresAt) {
			delete(r.sessions[sessionID], name)
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sweep purges every expired skill session and empty session map.
// Intended for the periodic janitor.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	purged := 0
	for sid, m := range r.sessions {
		for name, ss := range m {
			if now.After(ss.ExpiresAt) {
				delete(m, name)
				purged++
			}
		}
		if len(m) == 0 {
			delete(r.sessions, sid)
		}
	}
	if purged > 0 {
		slog.Debug("skill sessions swept", "purged", purged)
	}
	return purged
}
