// Package deathsave implements the dying rules for player characters at
// 0 HP as a pure state machine. Apply has no dependencies and no side
// effects, so every rule is testable in isolation from the combat engine.
//
// The engine owns HP arithmetic. This package only tracks the dying
// bookkeeping: save counters, Unconscious/Stable/Dead flags, and the
// transitions between them. Outcomes tell the caller when an HP effect is
// required (a natural 20 revives at 1 HP).
package deathsave

// State is the death-save bookkeeping for one character. The zero value is
// a conscious character with clean counters.
type State struct {
	Successes   int
	Failures    int
	Unconscious bool
	Stable      bool
	Dead        bool
}

// CanRoll reports whether an explicit death-save roll is currently valid:
// the character must be unconscious, not stable, and not dead.
func (s State) CanRoll() bool {
	return s.Unconscious && !s.Stable && !s.Dead
}

// Outcome summarizes the transition Apply performed, for event emission.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeKnockedOut: the character just dropped to 0 HP and began dying.
	OutcomeKnockedOut
	// OutcomeRevived: the character is conscious again; the caller must set
	// HP (1 for a natural 20, the heal amount otherwise).
	OutcomeRevived
	// OutcomeStabilized: the character stopped dying but remains at 0 HP.
	OutcomeStabilized
	// OutcomeDied: the character is dead.
	OutcomeDied
	// OutcomeSaveRecorded: a counter changed without a terminal transition.
	OutcomeSaveRecorded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeKnockedOut:
		return "knocked_out"
	case OutcomeRevived:
		return "revived"
	case OutcomeStabilized:
		return "stabilized"
	case OutcomeDied:
		return "died"
	case OutcomeSaveRecorded:
		return "save_recorded"
	}
	return "unknown"
}

// Event is one input to the dying state machine.
type Event interface {
	isDeathSaveEvent()
}

// DropToZero fires when damage brings a PC to exactly 0 HP without meeting
// the massive damage threshold.
type DropToZero struct{}

// MassiveDamage fires when the damage remaining after HP reaches 0 is at
// least the character's HP maximum. Death is instant and bypasses the save
// sequence entirely.
type MassiveDamage struct{}

// Roll is an explicit death saving throw, Value in [1, 20].
type Roll struct {
	Value int
}

// DamageAtZero fires when an already-dying character takes damage. Critical
// hits count as two failures.
type DamageAtZero struct {
	Critical bool
}

// Heal fires when healing reaches a character at 0 HP. Amount 0 is the
// stabilize-only action (a successful Medicine check, spare bandages);
// positive amounts bring the character back up.
type Heal struct {
	Amount int
}

func (DropToZero) isDeathSaveEvent()    {}
func (MassiveDamage) isDeathSaveEvent() {}
func (Roll) isDeathSaveEvent()          {}
func (DamageAtZero) isDeathSaveEvent()  {}
func (Heal) isDeathSaveEvent()          {}

// Apply advances the dying state machine by one event and returns the new
// state. It is total: events that are invalid for the current state return
// the state unchanged with OutcomeNone. Validation errors for callers are
// the combat engine's job; by the time an event reaches Apply the decision
// is only how the rules resolve it.
func Apply(s State, ev Event) (State, Outcome) {
	switch e := ev.(type) {
	case DropToZero:
		if s.Dead {
			return s, OutcomeNone
		}
		return State{Unconscious: true}, OutcomeKnockedOut

	case MassiveDamage:
		if s.Dead {
			return s, OutcomeNone
		}
		s.Unconscious = false
		s.Stable = false
		s.Dead = true
		return s, OutcomeDied

	case Roll:
		if !s.CanRoll() {
			return s, OutcomeNone
		}
		switch {
		case e.Value == 20:
			// Revival, not a third success: back to 1 HP with clean state.
			return State{}, OutcomeRevived
		case e.Value == 1:
			return s.addFailures(2)
		case e.Value >= 10:
			return s.addSuccesses(1)
		default:
			return s.addFailures(1)
		}

	case DamageAtZero:
		if s.Dead {
			return s, OutcomeNone
		}
		// Damage interrupts stability; the character is dying again and the
		// hit counts against them like a rolled failure.
		s.Stable = false
		if e.Critical {
			return s.addFailures(2)
		}
		return s.addFailures(1)

	case Heal:
		if s.Dead || !s.Unconscious {
			return s, OutcomeNone
		}
		if e.Amount == 0 {
			return State{Unconscious: true, Stable: true}, OutcomeStabilized
		}
		return State{}, OutcomeRevived
	}

	return s, OutcomeNone
}

func (s State) addSuccesses(n int) (State, Outcome) {
	s.Successes += n
	if s.Successes >= 3 {
		s.Successes = 3
		s.Stable = true
		return s, OutcomeStabilized
	}
	return s, OutcomeSaveRecorded
}

func (s State) addFailures(n int) (State, Outcome) {
	s.Failures += n
	if s.Failures >= 3 {
		s.Failures = 3
		s.Unconscious = false
		s.Stable = false
		s.Dead = true
		return s, OutcomeDied
	}
	return s, OutcomeSaveRecorded
}
