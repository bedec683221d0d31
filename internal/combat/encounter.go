// Package combat owns the encounter aggregate and its state machine: combat
// start/advance/end, damage and healing, initiative, conditions, and the
// death-save sequence for player characters. All mutations go through the
// Engine, which serializes them per campaign and keeps the authoritative
// roster and the encounter snapshot consistent.
package combat

import (
	"fmt"
	"sort"
	"time"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/event"
)

// maxLogEntries bounds the per-encounter combat log.
const maxLogEntries = 200

// Combatant is one participant's encounter-scoped snapshot. For PCs and
// NPCs it mirrors the roster entry; enemies exist only here. The map key in
// Encounter.Combatants carries the id.
type Combatant struct {
	Name          string         `json:"name"`
	Kind          character.Kind `json:"kind"`
	Initiative    int            `json:"initiative"`
	InitiativeMod int            `json:"initiativeMod"`
	CurrentHP     int            `json:"currentHp"`
	MaxHP         int            `json:"maxHp"`
	ArmorClass    int            `json:"armorClass"`
	IsDefeated    bool           `json:"isDefeated"`
}

// LogEntry is one line of the encounter's running combat log.
type LogEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Encounter is the active combat aggregate for one campaign. At most one
// exists per campaign at a time. It serializes to the JSON document the
// roster store persists; clients receive the same shape in snapshots.
type Encounter struct {
	ID               string                `json:"id"`
	IsActive         bool                  `json:"isActive"`
	RoundNumber      int                   `json:"roundNumber"`
	TurnOrder        []string              `json:"turnOrder"`
	CurrentTurnIndex int                   `json:"currentTurnIndex"`
	SurprisedIDs     []string              `json:"surprisedIds"`
	Combatants       map[string]*Combatant `json:"combatants"`
	Log              []LogEntry            `json:"log,omitempty"`
}

// Clone returns a deep copy. Broadcast payloads and snapshot pulls work on
// copies so concurrent readers never observe a mid-mutation aggregate.
func (e *Encounter) Clone() *Encounter {
	if e == nil {
		return nil
	}
	out := *e
	out.TurnOrder = append([]string(nil), e.TurnOrder...)
	out.SurprisedIDs = append([]string(nil), e.SurprisedIDs...)
	out.Combatants = make(map[string]*Combatant, len(e.Combatants))
	for id, c := range e.Combatants {
		cc := *c
		out.Combatants[id] = &cc
	}
	out.Log = append([]LogEntry(nil), e.Log...)
	return &out
}

// Combatant returns the snapshot entry for an id.
func (e *Encounter) Combatant(id string) (*Combatant, bool) {
	c, ok := e.Combatants[id]
	return c, ok
}

// CurrentCombatantID returns the id of the combatant whose turn it is.
func (e *Encounter) CurrentCombatantID() string {
	if len(e.TurnOrder) == 0 {
		return ""
	}
	return e.TurnOrder[e.CurrentTurnIndex]
}

// IsSurprised reports whether a combatant is still flagged surprised.
// Surprise only gates action economy; surprised combatants keep their slot
// in the turn order.
func (e *Encounter) IsSurprised(id string) bool {
	for _, s := range e.SurprisedIDs {
		if s == id {
			return true
		}
	}
	return false
}

func (e *Encounter) markSurprised(id string) {
	if e.IsSurprised(id) {
		return
	}
	e.SurprisedIDs = append(e.SurprisedIDs, id)
	sort.Strings(e.SurprisedIDs)
}

// Validate checks the aggregate's structural invariants. A persisted
// encounter that fails validation is unrecoverable for this encounter; the
// engine responds by forcing combat closed.
func (e *Encounter) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("encounter: missing id")
	}
	if e.IsActive {
		if len(e.TurnOrder) == 0 {
			return fmt.Errorf("encounter %s: active with empty turn order", e.ID)
		}
		if e.CurrentTurnIndex < 0 || e.CurrentTurnIndex >= len(e.TurnOrder) {
			return fmt.Errorf("encounter %s: turn index %d out of range [0,%d)", e.ID, e.CurrentTurnIndex, len(e.TurnOrder))
		}
		if e.RoundNumber < 1 {
			return fmt.Errorf("encounter %s: round %d below 1", e.ID, e.RoundNumber)
		}
	}
	seen := make(map[string]bool, len(e.TurnOrder))
	for _, id := range e.TurnOrder {
		if seen[id] {
			return fmt.Errorf("encounter %s: duplicate id %s in turn order", e.ID, id)
		}
		seen[id] = true
		if _, ok := e.Combatants[id]; !ok {
			return fmt.Errorf("encounter %s: turn order references missing combatant %s", e.ID, id)
		}
	}
	for _, id := range e.SurprisedIDs {
		if _, ok := e.Combatants[id]; !ok {
			return fmt.Errorf("encounter %s: surprised id %s has no combatant", e.ID, id)
		}
	}
	for id, c := range e.Combatants {
		if c.Name == "" {
			return fmt.Errorf("encounter %s: combatant %s has no name", e.ID, id)
		}
		if !c.Kind.Valid() {
			return fmt.Errorf("encounter %s: combatant %s has unknown kind %q", e.ID, id, c.Kind)
		}
		if c.MaxHP <= 0 {
			return fmt.Errorf("encounter %s: combatant %s max hp %d", e.ID, id, c.MaxHP)
		}
		if c.CurrentHP < 0 || c.CurrentHP > c.MaxHP {
			return fmt.Errorf("encounter %s: combatant %s hp %d out of range [0,%d]", e.ID, id, c.CurrentHP, c.MaxHP)
		}
	}
	return nil
}

// advance moves the turn pointer to the next non-defeated combatant,
// scanning circularly. Defeated combatants are skipped in place, never
// spliced out. It reports whether the scan wrapped past the end of the
// order, which increments the round by exactly one.
func (e *Encounter) advance() (wrapped bool, err error) {
	n := len(e.TurnOrder)
	if n == 0 {
		return false, ErrNoEligibleCombatants
	}
	for step := 1; step <= n; step++ {
		raw := e.CurrentTurnIndex + step
		idx := raw % n
		c := e.Combatants[e.TurnOrder[idx]]
		if c != nil && !c.IsDefeated {
			e.CurrentTurnIndex = idx
			if raw >= n {
				e.RoundNumber++
				wrapped = true
			}
			return wrapped, nil
		}
	}
	return false, ErrNoEligibleCombatants
}

// sortTurnOrder rebuilds the turn order from the combatant map: initiative
// descending, ties broken by higher initiative modifier, then by name, then
// by id. The total order is deterministic so identical inputs always
// produce identical turn orders.
func (e *Encounter) sortTurnOrder() {
	ids := make([]string, 0, len(e.Combatants))
	for id := range e.Combatants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := e.Combatants[ids[i]], e.Combatants[ids[j]]
		if a.Initiative != b.Initiative {
			return a.Initiative > b.Initiative
		}
		if a.InitiativeMod != b.InitiativeMod {
			return a.InitiativeMod > b.InitiativeMod
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return ids[i] < ids[j]
	})
	e.TurnOrder = ids
}

// appendLog records one combat-log line, dropping the oldest entries once
// the log is full.
func (e *Encounter) appendLog(format string, args ...any) {
	e.Log = append(e.Log, LogEntry{
		Time: time.Now().UTC(),
		Text: fmt.Sprintf(format, args...),
	})
	if len(e.Log) > maxLogEntries {
		e.Log = e.Log[len(e.Log)-maxLogEntries:]
	}
}

// turnEntries renders the turn order for event payloads.
func (e *Encounter) turnEntries() []event.TurnEntry {
	entries := make([]event.TurnEntry, 0, len(e.TurnOrder))
	for _, id := range e.TurnOrder {
		c := e.Combatants[id]
		entries = append(entries, event.TurnEntry{
			CombatantID: id,
			Name:        c.Name,
			Kind:        string(c.Kind),
			Initiative:  c.Initiative,
			Surprised:   e.IsSurprised(id),
		})
	}
	return entries
}
