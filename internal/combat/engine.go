package combat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/dice"
	"github.com/riddle-dm/riddle-server-go/internal/event"
)

// Store is the persistence boundary the engine drives. Lookups return
// (nil, nil) when the record does not exist; errors are reserved for the
// storage layer itself failing.
type Store interface {
	GetCharacter(ctx context.Context, campaignID, characterID string) (*character.Character, error)
	SaveCharacter(ctx context.Context, ch *character.Character) error
	ListCharacters(ctx context.Context, campaignID string) ([]*character.Character, error)

	GetEncounter(ctx context.Context, campaignID string) (*Encounter, error)
	SaveEncounter(ctx context.Context, campaignID string, enc *Encounter) error
	DeleteEncounter(ctx context.Context, campaignID string) error
}

// Notifier delivers events to connected clients. Delivery is best-effort
// and fire-and-forget: the engine never waits on it and a delivery failure
// never rolls back a committed mutation.
type Notifier interface {
	Publish(campaignID string, ev event.Event)
}

// Engine owns every combat mutation. Operations on the same campaign are
// serialized through a per-campaign lock, because DM actions and
// model-issued tool calls arrive concurrently and both read-modify-write
// the same aggregate. Each operation loads the encounter once, mutates in
// memory, persists once, and broadcasts only after every write committed.
type Engine struct {
	store    Store
	notifier Notifier
	roller   *dice.Roller
	logger   *zap.Logger

	mu    sync.Mutex
	rooms map[string]*sync.Mutex
}

// NewEngine creates a combat engine.
func NewEngine(store Store, notifier Notifier, roller *dice.Roller, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		roller:   roller,
		logger:   logger,
		rooms:    make(map[string]*sync.Mutex),
	}
}

// room returns the serialization lock for a campaign, creating it on first
// use.
func (e *Engine) room(campaignID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.rooms[campaignID]
	if !ok {
		m = &sync.Mutex{}
		e.rooms[campaignID] = m
	}
	return m
}

// loadEncounter fetches and validates the campaign's encounter. It returns
// (nil, nil) when no encounter is active. A persisted encounter that fails
// validation is force-closed and reported as ErrCorruptEncounter.
func (e *Engine) loadEncounter(ctx context.Context, campaignID string) (*Encounter, error) {
	enc, err := e.store.GetEncounter(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load encounter: %w", err)
	}
	if enc == nil || !enc.IsActive {
		return nil, nil
	}
	if err := enc.Validate(); err != nil {
		return nil, e.forceEnd(ctx, campaignID, enc, err)
	}
	return enc, nil
}

// forceEnd clears an unrecoverable encounter and tells every client combat
// is over. The DM restarts combat explicitly; the engine never attempts
// automatic repair.
func (e *Engine) forceEnd(ctx context.Context, campaignID string, enc *Encounter, cause error) error {
	e.logger.Error("encounter state corrupt, forcing combat closed",
		zap.String("campaign_id", campaignID),
		zap.Error(cause))
	if err := e.store.DeleteEncounter(context.WithoutCancel(ctx), campaignID); err != nil {
		return fmt.Errorf("clear corrupt encounter: %w", err)
	}
	payload := event.CombatEndedPayload{Forced: true}
	if enc != nil {
		payload.EncounterID = enc.ID
		payload.Rounds = enc.RoundNumber
	}
	e.notifier.Publish(campaignID, event.New(event.TypeCombatEnded, campaignID, payload))
	return ErrCorruptEncounter
}

func (e *Engine) publish(campaignID string, events []event.Event) {
	for _, ev := range events {
		e.notifier.Publish(campaignID, ev)
	}
}

// EnemySpec describes one enemy joining an encounter. Enemies are
// encounter-scoped: they get a generated id and never touch the roster.
// A nil Initiative means the engine rolls 1d20 + InitiativeMod.
type EnemySpec struct {
	Name          string
	MaxHP         int
	ArmorClass    int
	Initiative    *int
	InitiativeMod int
	Surprised     bool
}

// StartCombatInput carries the participants for a new encounter.
// PartyInitiatives maps roster character ids (PCs and NPCs) to the
// initiative each rolled; SurprisedIDs flags roster participants that were
// caught off guard.
type StartCombatInput struct {
	PartyInitiatives map[string]int
	Enemies          []EnemySpec
	SurprisedIDs     []string
}

// StartCombat creates the encounter for a campaign. It fails with
// ErrAlreadyActive when one is already running; starting over requires an
// explicit EndCombat first.
func (e *Engine) StartCombat(ctx context.Context, campaignID string, input StartCombatInput) (*Encounter, error) {
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	existing, err := e.loadEncounter(ctx, campaignID)
	if err != nil && !errors.Is(err, ErrCorruptEncounter) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyActive
	}
	if len(input.PartyInitiatives)+len(input.Enemies) == 0 {
		return nil, ErrNoCombatants
	}

	combatants := make(map[string]*Combatant, len(input.PartyInitiatives)+len(input.Enemies))
	for id, initiative := range input.PartyInitiatives {
		ch, err := e.store.GetCharacter(ctx, campaignID, id)
		if err != nil {
			return nil, fmt.Errorf("load character %s: %w", id, err)
		}
		if ch == nil {
			return nil, fmt.Errorf("character %s: %w", id, ErrUnknownCombatant)
		}
		if ch.Kind == character.KindEnemy {
			return nil, fmt.Errorf("character %s is enemy-kind, add it via the enemies list: %w", id, ErrInvalidEnemy)
		}
		combatants[id] = &Combatant{
			Name:          ch.Name,
			Kind:          ch.Kind,
			Initiative:    initiative,
			InitiativeMod: ch.InitiativeMod,
			CurrentHP:     ch.CurrentHP,
			MaxHP:         ch.MaxHP,
			ArmorClass:    ch.ArmorClass,
			IsDefeated:    rosterDefeated(ch),
		}
	}

	enc := &Encounter{
		ID:          uuid.NewString(),
		IsActive:    true,
		RoundNumber: 1,
		Combatants:  combatants,
	}

	for _, spec := range input.Enemies {
		if spec.Name == "" || spec.MaxHP <= 0 {
			return nil, fmt.Errorf("enemy %q: %w", spec.Name, ErrInvalidEnemy)
		}
		initiative := 0
		if spec.Initiative != nil {
			initiative = *spec.Initiative
		} else {
			initiative = e.roller.Initiative(spec.InitiativeMod)
		}
		id := uuid.NewString()
		combatants[id] = &Combatant{
			Name:          spec.Name,
			Kind:          character.KindEnemy,
			Initiative:    initiative,
			InitiativeMod: spec.InitiativeMod,
			CurrentHP:     spec.MaxHP,
			MaxHP:         spec.MaxHP,
			ArmorClass:    spec.ArmorClass,
		}
		if spec.Surprised {
			enc.markSurprised(id)
		}
	}

	for _, id := range input.SurprisedIDs {
		if _, ok := combatants[id]; !ok {
			return nil, fmt.Errorf("surprised id %s: %w", id, ErrUnknownCombatant)
		}
		enc.markSurprised(id)
	}

	enc.sortTurnOrder()
	enc.appendLog("Combat started: %d combatants, round 1", len(combatants))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.SaveEncounter(context.WithoutCancel(ctx), campaignID, enc); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}

	e.logger.Info("combat started",
		zap.String("campaign_id", campaignID),
		zap.String("encounter_id", enc.ID),
		zap.Int("combatants", len(combatants)))

	e.notifier.Publish(campaignID, event.New(event.TypeCombatStarted, campaignID, event.CombatStartedPayload{
		EncounterID:      enc.ID,
		Round:            enc.RoundNumber,
		CurrentTurnIndex: enc.CurrentTurnIndex,
		TurnOrder:        enc.turnEntries(),
	}))
	return enc.Clone(), nil
}

// AdvanceTurn moves to the next non-defeated combatant. Wrapping past the
// end of the turn order increments the round by exactly one; surprise flags
// clear once the first round is over.
func (e *Engine) AdvanceTurn(ctx context.Context, campaignID string) (*Encounter, error) {
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, ErrNoActiveCombat
	}

	wrapped, err := enc.advance()
	if err != nil {
		return nil, err
	}
	if wrapped && enc.RoundNumber > 1 && len(enc.SurprisedIDs) > 0 {
		enc.SurprisedIDs = nil
	}

	currentID := enc.CurrentCombatantID()
	current := enc.Combatants[currentID]
	enc.appendLog("Round %d: %s's turn", enc.RoundNumber, current.Name)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.SaveEncounter(context.WithoutCancel(ctx), campaignID, enc); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}

	e.notifier.Publish(campaignID, event.New(event.TypeTurnAdvanced, campaignID, event.TurnAdvancedPayload{
		Round:         enc.RoundNumber,
		TurnIndex:     enc.CurrentTurnIndex,
		CombatantID:   currentID,
		CombatantName: current.Name,
		Surprised:     enc.IsSurprised(currentID),
	}))
	return enc.Clone(), nil
}

// EndCombat discards the encounter. Roster values written during combat
// (HP, conditions, death saves) are retained; ending combat resets the
// encounter aggregate, not the characters.
func (e *Engine) EndCombat(ctx context.Context, campaignID string) (*Encounter, error) {
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, ErrNoActiveCombat
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.store.DeleteEncounter(context.WithoutCancel(ctx), campaignID); err != nil {
		return nil, fmt.Errorf("delete encounter: %w", err)
	}

	e.logger.Info("combat ended",
		zap.String("campaign_id", campaignID),
		zap.String("encounter_id", enc.ID),
		zap.Int("rounds", enc.RoundNumber))

	e.notifier.Publish(campaignID, event.New(event.TypeCombatEnded, campaignID, event.CombatEndedPayload{
		EncounterID: enc.ID,
		Rounds:      enc.RoundNumber,
	}))
	return enc.Clone(), nil
}

// SetInitiative changes a combatant's initiative mid-combat, re-sorts the
// turn order with the same deterministic comparison used at combat start,
// and keeps the turn pointer on the combatant whose turn it already was.
func (e *Engine) SetInitiative(ctx context.Context, campaignID, combatantID string, value int) error {
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil {
		return err
	}
	if enc == nil {
		return ErrNoActiveCombat
	}
	cmb, ok := enc.Combatant(combatantID)
	if !ok {
		return fmt.Errorf("combatant %s: %w", combatantID, ErrUnknownCombatant)
	}

	currentID := enc.CurrentCombatantID()
	cmb.Initiative = value
	enc.sortTurnOrder()
	for i, id := range enc.TurnOrder {
		if id == currentID {
			enc.CurrentTurnIndex = i
			break
		}
	}
	enc.appendLog("%s initiative set to %d", cmb.Name, value)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.store.SaveEncounter(context.WithoutCancel(ctx), campaignID, enc); err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}

	e.publish(campaignID, []event.Event{
		event.New(event.TypeCharacterStateUpdated, campaignID, event.CharacterStateUpdatedPayload{
			CombatantID: combatantID,
			Key:         event.KeyInitiative,
			Value:       value,
		}),
		event.New(event.TypeTurnOrderChanged, campaignID, event.TurnOrderChangedPayload{
			Round:            enc.RoundNumber,
			CurrentTurnIndex: enc.CurrentTurnIndex,
			TurnOrder:        enc.turnEntries(),
		}),
	})
	return nil
}

// Snapshot returns the campaign's current encounter (nil when none is
// active) and the full roster. Reconnecting clients call this instead of
// relying on replayed events; the state returned is identical to what a
// client that never disconnected has accumulated.
func (e *Engine) Snapshot(ctx context.Context, campaignID string) (*Encounter, []*character.Character, error) {
	room := e.room(campaignID)
	room.Lock()
	defer room.Unlock()

	enc, err := e.loadEncounter(ctx, campaignID)
	if err != nil && !errors.Is(err, ErrCorruptEncounter) {
		return nil, nil, err
	}
	roster, err := e.store.ListCharacters(ctx, campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("list characters: %w", err)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Name < roster[j].Name })
	return enc.Clone(), roster, nil
}
