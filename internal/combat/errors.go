package combat

import "errors"

// Validation errors. The operation reports the failure and leaves both the
// roster and the encounter untouched.
var (
	// ErrAlreadyActive: StartCombat while this campaign already has an
	// active encounter. Starting over requires an explicit EndCombat.
	ErrAlreadyActive = errors.New("combat: encounter already active")

	// ErrNoActiveCombat: an operation that requires an active encounter
	// found none.
	ErrNoActiveCombat = errors.New("combat: no active encounter")

	// ErrUnknownCombatant: the target id matches no combatant (during
	// combat) or no roster character (outside combat).
	ErrUnknownCombatant = errors.New("combat: unknown combatant")

	// ErrInvalidAmount: negative damage or healing.
	ErrInvalidAmount = errors.New("combat: amount must not be negative")

	// ErrInvalidRoll: a death-save roll outside [1, 20].
	ErrInvalidRoll = errors.New("combat: death save roll must be between 1 and 20")

	// ErrNotDying: RecordDeathSave on a character who is not unconscious,
	// or who is already stable or dead.
	ErrNotDying = errors.New("combat: character is not rolling death saves")

	// ErrNoCombatants: StartCombat with an empty participant set.
	ErrNoCombatants = errors.New("combat: at least one combatant required")

	// ErrNoEligibleCombatants: AdvanceTurn when every entry in the turn
	// order is defeated.
	ErrNoEligibleCombatants = errors.New("combat: every combatant is defeated")

	// ErrInvalidEnemy: an enemy spec without a name or positive max HP.
	ErrInvalidEnemy = errors.New("combat: enemy requires a name and positive max hp")
)

// State errors surfaced to callers with recovery instructions attached.
var (
	// ErrPartialUpdate: the roster write committed but the encounter write
	// failed. The caller must retry the whole operation; the engine never
	// retries silently because the write pair is not idempotent.
	ErrPartialUpdate = errors.New("combat: roster updated but encounter write failed")

	// ErrCorruptEncounter: the persisted encounter violated its own
	// invariants. The engine has already forced the encounter closed; the
	// DM must start combat again.
	ErrCorruptEncounter = errors.New("combat: encounter state corrupt, combat ended")
)
