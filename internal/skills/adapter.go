package skills

import "github.com/nextlevelbuilder/mingle/internal/tools"

// Adapter methods satisfying tools.SkillLoader, so the tool catalog can
// depend on a narrow interface instead of this package.

func (r *Registry) ListSkills() []*tools.Skill { return r.List() }

func (r *Registry) LoadSkill(sessionID, name string) error {
	_, err := r.Load(sessionID, name)
	return err
}

func (r *Registry) UnloadSkill(sessionID, name string) { r.Unload(sessionID, name) }
