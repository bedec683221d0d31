// Package character defines the authoritative roster model for a campaign:
// player characters, DM-run NPCs, and the condition/death-save bookkeeping
// that outlives any single encounter.
package character

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a combatant. PCs and NPCs are roster-backed; enemies exist
// only inside an encounter.
type Kind string

const (
	KindPC    Kind = "pc"
	KindNPC   Kind = "npc"
	KindEnemy Kind = "enemy"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPC, KindNPC, KindEnemy:
		return true
	}
	return false
}

// Conditions the engine itself manages. SetCondition accepts any normalized
// name, so homebrew conditions pass through untouched.
const (
	ConditionUnconscious = "unconscious"
	ConditionStable      = "stable"
	ConditionDead        = "dead"
)

var (
	// ErrInvalidCondition is returned when a condition name normalizes to
	// the empty string.
	ErrInvalidCondition = errors.New("character: empty condition name")
)

// NormalizeCondition lowercases and trims a condition name. Canonical
// condition strings are lowercase throughout storage and the wire.
func NormalizeCondition(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", ErrInvalidCondition
	}
	return name, nil
}

// Conditions is a set of active condition names, kept sorted and
// de-duplicated so serialized output is deterministic.
type Conditions []string

// Has reports whether the named condition is active.
func (c Conditions) Has(name string) bool {
	for _, v := range c {
		if v == name {
			return true
		}
	}
	return false
}

// Add activates a condition. It reports whether the set changed.
func (c *Conditions) Add(name string) bool {
	if c.Has(name) {
		return false
	}
	*c = append(*c, name)
	sort.Strings(*c)
	return true
}

// Remove clears a condition. It reports whether the set changed.
func (c *Conditions) Remove(name string) bool {
	for i, v := range *c {
		if v == name {
			*c = append((*c)[:i], (*c)[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the set.
func (c Conditions) Clone() Conditions {
	if c == nil {
		return nil
	}
	out := make(Conditions, len(c))
	copy(out, c)
	return out
}

// DeathSaves tracks accumulated death saving throws for a PC at 0 HP.
// Both counters stay in [0, 3].
type DeathSaves struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Character is one authoritative roster entry. Hit points, conditions, and
// death-save counters on this record are the source of truth; encounter
// snapshots mirror them.
type Character struct {
	ID                  string     `json:"id"`
	CampaignID          string     `json:"campaignId"`
	Name                string     `json:"name"`
	Kind                Kind       `json:"kind"`
	MaxHP               int        `json:"maxHp"`
	CurrentHP           int        `json:"currentHp"`
	TempHP              int        `json:"tempHp"`
	ArmorClass          int        `json:"armorClass"`
	InitiativeMod       int        `json:"initiativeMod"`
	Conditions          Conditions `json:"conditions"`
	DeathSaves          DeathSaves `json:"deathSaves"`
	ControllingPlayerID string     `json:"controllingPlayerId,omitempty"`
}

// Clone returns a deep copy. Mutating the copy never touches the original.
func (c *Character) Clone() *Character {
	out := *c
	out.Conditions = c.Conditions.Clone()
	return &out
}

// Validate checks structural invariants on a roster entry.
func (c *Character) Validate() error {
	if c.ID == "" {
		return errors.New("character: missing id")
	}
	if c.CampaignID == "" {
		return errors.New("character: missing campaign id")
	}
	if c.Name == "" {
		return errors.New("character: missing name")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("character: unknown kind %q", c.Kind)
	}
	if c.MaxHP <= 0 {
		return fmt.Errorf("character %s: max hp must be positive", c.ID)
	}
	if c.CurrentHP < 0 || c.CurrentHP > c.MaxHP {
		return fmt.Errorf("character %s: current hp %d out of range [0,%d]", c.ID, c.CurrentHP, c.MaxHP)
	}
	if c.TempHP < 0 {
		return fmt.Errorf("character %s: temp hp must not be negative", c.ID)
	}
	if c.DeathSaves.Successes < 0 || c.DeathSaves.Successes > 3 ||
		c.DeathSaves.Failures < 0 || c.DeathSaves.Failures > 3 {
		return fmt.Errorf("character %s: death save counters out of range", c.ID)
	}
	return nil
}
