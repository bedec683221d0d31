package combat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat/deathsave"
	"github.com/riddle-dm/riddle-server-go/internal/event"
)

// ApplyDamage deals damage to a combatant. Temporary HP absorbs first, the
// remainder depletes current HP floored at 0. PCs dropping to 0 enter the
// death-save sequence; damage overflowing max HP kills outright.
//
// During combat the id must name a combatant. Outside combat the roster is
// still live (a PC can keep dying after the enemies flee), so the id
// resolves against roster characters directly.
func (e *Engine) ApplyDamage(ctx context.Context, campaignID, combatantID string, amount int, critical bool) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return err
	}
	if enc != nil {
		cmb, ok := enc.Combatant(combatantID)
		if !ok {
			return fmt.Errorf("combatant %s: %w", combatantID, ErrUnknownCombatant)
		}
		if cmb.Kind == character.KindEnemy {
			return e.damageEnemy(ctx, campaignID, enc, combatantID, cmb, amount)
		}
	}
	return e.mutateCharacter(ctx, campaignID, enc, combatantID, 0, func(ch *character.Character) deathsave.Outcome {
		return damageCharacter(ch, amount, critical)
	})
}

// ApplyHealing restores HP, capped at max, never touching temporary HP.
// Healing an unconscious PC wakes them; a 0-amount heal is the
// stabilize-only action. The dead are beyond healing.
func (e *Engine) ApplyHealing(ctx context.Context, campaignID, combatantID string, amount int) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return err
	}
	if enc != nil {
		cmb, ok := enc.Combatant(combatantID)
		if !ok {
			return fmt.Errorf("combatant %s: %w", combatantID, ErrUnknownCombatant)
		}
		if cmb.Kind == character.KindEnemy {
			return e.healEnemy(ctx, campaignID, enc, combatantID, cmb, amount)
		}
	}
	return e.mutateCharacter(ctx, campaignID, enc, combatantID, 0, func(ch *character.Character) deathsave.Outcome {
		return healCharacter(ch, amount)
	})
}

// RecordDeathSave applies one explicit death-save roll for a PC. Valid only
// while the character is unconscious and neither stable nor dead. Works
// with or without an active encounter, since a character can still be dying
// after combat ends.
func (e *Engine) RecordDeathSave(ctx context.Context, campaignID, characterID string, roll int) error {
	if roll < 1 || roll > 20 {
		return ErrInvalidRoll
	}
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return err
	}

	ch, err := e.store.GetCharacter(ctx, campaignID, characterID)
	if err != nil {
		return fmt.Errorf("load character %s: %w", characterID, err)
	}
	if ch == nil {
		return fmt.Errorf("character %s: %w", characterID, ErrUnknownCombatant)
	}
	if ch.Kind != character.KindPC {
		return fmt.Errorf("character %s: %w", characterID, ErrNotDying)
	}
	state := saveStateOf(ch)
	if !state.CanRoll() {
		return fmt.Errorf("character %s: %w", characterID, ErrNotDying)
	}

	before := ch.Clone()
	newState, outcome := deathsave.Apply(state, deathsave.Roll{Value: roll})
	applySaveState(ch, newState)
	if outcome == deathsave.OutcomeRevived {
		ch.CurrentHP = 1
	}

	events, err := e.commitCharacter(ctx, campaignID, enc, characterID, before, ch, roll, true)
	if err != nil {
		return err
	}
	e.logger.Info("death save recorded",
		zap.String("campaign_id", campaignID),
		zap.String("character_id", characterID),
		zap.Int("roll", roll),
		zap.String("outcome", outcome.String()))
	e.publish(campaignID, events)
	return nil
}

// SetCondition toggles a condition on a roster character. Condition names
// normalize to lowercase; toggling a condition to its current state is a
// no-op. Setting "dead" by hand marks the combatant defeated in an active
// encounter, the same as dying through the save sequence.
func (e *Engine) SetCondition(ctx context.Context, campaignID, characterID, condition string, on bool) error {
	cond, err := character.NormalizeCondition(condition)
	if err != nil {
		return err
	}
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return err
	}
	ch, err := e.store.GetCharacter(ctx, campaignID, characterID)
	if err != nil {
		return fmt.Errorf("load character %s: %w", characterID, err)
	}
	if ch == nil {
		return fmt.Errorf("character %s: %w", characterID, ErrUnknownCombatant)
	}

	before := ch.Clone()
	var changed bool
	if on {
		changed = ch.Conditions.Add(cond)
	} else {
		changed = ch.Conditions.Remove(cond)
	}
	if !changed {
		return nil
	}

	events, err := e.commitCharacter(ctx, campaignID, enc, characterID, before, ch, 0, false)
	if err != nil {
		return err
	}
	e.publish(campaignID, events)
	return nil
}

// mutateCharacter runs one roster mutation under the dual-write policy.
// The mutate callback works on the loaded character; if nothing changed the
// operation is a silent no-op with no writes and no events.
func (e *Engine) mutateCharacter(ctx context.Context, campaignID string, enc *Encounter, characterID string, roll int, mutate func(*character.Character) deathsave.Outcome) error {
	ch, err := e.store.GetCharacter(ctx, campaignID, characterID)
	if err != nil {
		return fmt.Errorf("load character %s: %w", characterID, err)
	}
	if ch == nil {
		if enc != nil {
			// The encounter names this combatant but the roster lost it:
			// the two representations have diverged beyond repair.
			return e.forceEnd(ctx, campaignID, enc, fmt.Errorf("combatant %s missing from roster", characterID))
		}
		return fmt.Errorf("character %s: %w", characterID, ErrUnknownCombatant)
	}

	before := ch.Clone()
	mutate(ch)
	if !characterChanged(before, ch) {
		return nil
	}

	events, err := e.commitCharacter(ctx, campaignID, enc, characterID, before, ch, roll, false)
	if err != nil {
		return err
	}
	e.publish(campaignID, events)
	return nil
}

// commitCharacter performs the two writes in the required order: the
// authoritative roster first, the encounter snapshot second. Events are
// returned, not published, so callers broadcast only after both writes
// committed. An encounter-write failure after the roster committed is
// reported as ErrPartialUpdate; the caller retries the whole operation.
func (e *Engine) commitCharacter(ctx context.Context, campaignID string, enc *Encounter, characterID string, before, after *character.Character, roll int, forceSaveEvent bool) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.SaveCharacter(context.WithoutCancel(ctx), after); err != nil {
		return nil, fmt.Errorf("save character %s: %w", characterID, err)
	}

	events := characterDiffEvents(campaignID, characterID, before, after, roll, forceSaveEvent)

	if enc != nil {
		if cmb, ok := enc.Combatant(characterID); ok {
			beforeDefeated := cmb.IsDefeated
			syncCombatant(cmb, after)
			logCharacterChange(enc, cmb.Name, before, after)
			if err := e.store.SaveEncounter(context.WithoutCancel(ctx), campaignID, enc); err != nil {
				e.logger.Error("encounter write failed after roster commit",
					zap.String("campaign_id", campaignID),
					zap.String("character_id", characterID),
					zap.Error(err))
				return nil, fmt.Errorf("encounter %s: %w", enc.ID, ErrPartialUpdate)
			}
			if cmb.IsDefeated != beforeDefeated {
				events = append(events, event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
					CombatantID: characterID,
					Key:         event.KeyIsDefeated,
					Value:       cmb.IsDefeated,
				}))
			}
		}
	}
	return events, nil
}

func (e *Engine) damageEnemy(ctx context.Context, campaignID string, enc *Encounter, id string, cmb *Combatant, amount int) error {
	beforeHP, beforeDefeated := cmb.CurrentHP, cmb.IsDefeated
	cmb.CurrentHP = max(0, cmb.CurrentHP-amount)
	cmb.IsDefeated = cmb.CurrentHP == 0
	if cmb.CurrentHP == beforeHP && cmb.IsDefeated == beforeDefeated {
		return nil
	}
	enc.appendLog("%s takes %d damage (%d/%d)", cmb.Name, amount, cmb.CurrentHP, cmb.MaxHP)
	if cmb.IsDefeated && !beforeDefeated {
		enc.appendLog("%s is defeated", cmb.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.store.SaveEncounter(context.WithoutCancel(ctx), campaignID, enc); err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}
	e.publish(campaignID, enemyDiffEvents(campaignID, id, beforeHP, beforeDefeated, cmb))
	return nil
}

func (e *Engine) healEnemy(ctx context.Context, campaignID string, enc *Encounter, id string, cmb *Combatant, amount int) error {
	beforeHP, beforeDefeated := cmb.CurrentHP, cmb.IsDefeated
	cmb.CurrentHP = min(cmb.CurrentHP+amount, cmb.MaxHP)
	cmb.IsDefeated = cmb.CurrentHP == 0
	if cmb.CurrentHP == beforeHP && cmb.IsDefeated == beforeDefeated {
		return nil
	}
	enc.appendLog("%s heals %d (%d/%d)", cmb.Name, amount, cmb.CurrentHP, cmb.MaxHP)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.store.SaveEncounter(context.WithoutCancel(ctx), campaignID, enc); err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}
	e.publish(campaignID, enemyDiffEvents(campaignID, id, beforeHP, beforeDefeated, cmb))
	return nil
}

// damageCharacter applies the damage arithmetic to a roster character and
// runs the death-save machine for PCs. Temp HP absorbs first; a hit fully
// absorbed by temp HP at 0 HP does not count as a save failure.
func damageCharacter(ch *character.Character, amount int, critical bool) deathsave.Outcome {
	wasZero := ch.CurrentHP == 0

	remaining := amount
	if ch.TempHP > 0 {
		absorbed := min(remaining, ch.TempHP)
		ch.TempHP -= absorbed
		remaining -= absorbed
	}
	hpLoss := min(remaining, ch.CurrentHP)
	ch.CurrentHP -= hpLoss
	overflow := remaining - hpLoss

	if ch.Kind != character.KindPC {
		return deathsave.OutcomeNone
	}

	state := saveStateOf(ch)
	var outcome deathsave.Outcome
	switch {
	case wasZero && remaining > 0:
		if remaining >= ch.MaxHP {
			state, outcome = deathsave.Apply(state, deathsave.MassiveDamage{})
		} else {
			state, outcome = deathsave.Apply(state, deathsave.DamageAtZero{Critical: critical})
		}
	case !wasZero && ch.CurrentHP == 0:
		if overflow >= ch.MaxHP {
			state, outcome = deathsave.Apply(state, deathsave.MassiveDamage{})
		} else {
			state, outcome = deathsave.Apply(state, deathsave.DropToZero{})
		}
	default:
		return deathsave.OutcomeNone
	}
	applySaveState(ch, state)
	return outcome
}

// healCharacter applies healing to a roster character, waking unconscious
// PCs through the death-save machine. Healing never affects temp HP and
// has no effect on the dead.
func healCharacter(ch *character.Character, amount int) deathsave.Outcome {
	state := saveStateOf(ch)
	if state.Dead {
		return deathsave.OutcomeNone
	}
	if ch.Kind == character.KindPC && state.Unconscious {
		newState, outcome := deathsave.Apply(state, deathsave.Heal{Amount: amount})
		applySaveState(ch, newState)
		if outcome == deathsave.OutcomeRevived {
			ch.CurrentHP = min(amount, ch.MaxHP)
		}
		return outcome
	}
	ch.CurrentHP = min(ch.CurrentHP+amount, ch.MaxHP)
	return deathsave.OutcomeNone
}

// saveStateOf derives the pure death-save state from a roster entry's
// conditions and counters.
func saveStateOf(ch *character.Character) deathsave.State {
	return deathsave.State{
		Successes:   ch.DeathSaves.Successes,
		Failures:    ch.DeathSaves.Failures,
		Unconscious: ch.Conditions.Has(character.ConditionUnconscious),
		Stable:      ch.Conditions.Has(character.ConditionStable),
		Dead:        ch.Conditions.Has(character.ConditionDead),
	}
}

// applySaveState writes the death-save state back onto the roster entry.
func applySaveState(ch *character.Character, s deathsave.State) {
	ch.DeathSaves.Successes = s.Successes
	ch.DeathSaves.Failures = s.Failures
	setConditionFlag(&ch.Conditions, character.ConditionUnconscious, s.Unconscious)
	setConditionFlag(&ch.Conditions, character.ConditionStable, s.Stable)
	setConditionFlag(&ch.Conditions, character.ConditionDead, s.Dead)
}

func setConditionFlag(c *character.Conditions, name string, on bool) {
	if on {
		c.Add(name)
	} else {
		c.Remove(name)
	}
}

// rosterDefeated decides the encounter-side defeated flag for a
// roster-backed combatant. PCs at 0 HP are dying, not defeated; they keep
// their turns to roll death saves. NPCs at 0 HP are down.
func rosterDefeated(ch *character.Character) bool {
	if ch.Conditions.Has(character.ConditionDead) {
		return true
	}
	return ch.Kind == character.KindNPC && ch.CurrentHP == 0
}

// syncCombatant mirrors roster truth into the encounter snapshot entry.
func syncCombatant(cmb *Combatant, ch *character.Character) {
	cmb.CurrentHP = ch.CurrentHP
	cmb.MaxHP = ch.MaxHP
	cmb.ArmorClass = ch.ArmorClass
	cmb.IsDefeated = rosterDefeated(ch)
}

func characterChanged(before, after *character.Character) bool {
	return before.TempHP != after.TempHP ||
		before.CurrentHP != after.CurrentHP ||
		!equalStrings(before.Conditions, after.Conditions) ||
		before.DeathSaves != after.DeathSaves
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// saveTuple is the client-visible death-save view; DeathSaveUpdated fires
// only when it changes (or on an explicit roll).
type saveTuple struct {
	successes int
	failures  int
	stable    bool
	dead      bool
}

func saveTupleOf(ch *character.Character) saveTuple {
	return saveTuple{
		successes: ch.DeathSaves.Successes,
		failures:  ch.DeathSaves.Failures,
		stable:    ch.Conditions.Has(character.ConditionStable),
		dead:      ch.Conditions.Has(character.ConditionDead),
	}
}

// characterDiffEvents builds the outbound events for a roster mutation, in
// a fixed order: temp_hp, current_hp, conditions, then death saves. Every
// payload is a single structured record.
func characterDiffEvents(campaignID, id string, before, after *character.Character, roll int, forceSaveEvent bool) []event.Event {
	var out []event.Event
	if before.TempHP != after.TempHP {
		out = append(out, event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
			CombatantID: id,
			Key:         event.KeyTempHP,
			Value:       after.TempHP,
		}))
	}
	if before.CurrentHP != after.CurrentHP {
		out = append(out, event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
			CombatantID: id,
			Key:         event.KeyCurrentHP,
			Value:       after.CurrentHP,
		}))
	}
	if !equalStrings(before.Conditions, after.Conditions) {
		out = append(out, event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
			CombatantID: id,
			Key:         event.KeyConditions,
			Value:       []string(after.Conditions.Clone()),
		}))
	}
	if forceSaveEvent || saveTupleOf(before) != saveTupleOf(after) {
		t := saveTupleOf(after)
		out = append(out, event.New(event.TypeDeathSaveUpdated, campaignID, event.DeathSaveUpdatedPayload{
			CharacterID: id,
			Roll:        roll,
			Successes:   t.successes,
			Failures:    t.failures,
			Stable:      t.stable,
			Dead:        t.dead,
		}))
	}
	return out
}

func enemyDiffEvents(campaignID, id string, beforeHP int, beforeDefeated bool, cmb *Combatant) []event.Event {
	var out []event.Event
	if cmb.CurrentHP != beforeHP {
		out = append(out, event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
			CombatantID: id,
			Key:         event.KeyCurrentHP,
			Value:       cmb.CurrentHP,
		}))
	}
	if cmb.IsDefeated != beforeDefeated {
		out = append(out, event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
			CombatantID: id,
			Key:         event.KeyIsDefeated,
			Value:       cmb.IsDefeated,
		}))
	}
	return out
}

// logCharacterChange appends human-readable combat-log lines for a roster
// mutation that happened during combat.
func logCharacterChange(enc *Encounter, name string, before, after *character.Character) {
	switch {
	case after.Conditions.Has(character.ConditionDead) && !before.Conditions.Has(character.ConditionDead):
		enc.appendLog("%s dies", name)
	case after.CurrentHP == 0 && before.CurrentHP > 0:
		enc.appendLog("%s falls unconscious (0/%d)", name, after.MaxHP)
	case after.Conditions.Has(character.ConditionStable) && !before.Conditions.Has(character.ConditionStable):
		enc.appendLog("%s is stabilized", name)
	case after.CurrentHP > 0 && before.CurrentHP == 0:
		enc.appendLog("%s is back on their feet (%d/%d)", name, after.CurrentHP, after.MaxHP)
	case after.CurrentHP < before.CurrentHP || after.TempHP < before.TempHP:
		enc.appendLog("%s takes damage (%d/%d)", name, after.CurrentHP, after.MaxHP)
	case after.CurrentHP > before.CurrentHP:
		enc.appendLog("%s heals (%d/%d)", name, after.CurrentHP, after.MaxHP)
	default:
		enc.appendLog("%s's condition changes", name)
	}
}
