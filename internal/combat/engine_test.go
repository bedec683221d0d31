package combat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/dice"
	"github.com/riddle-dm/riddle-server-go/internal/event"
)

const testCampaign = "camp-1"

// memStore is an in-memory Store that clones on every read and write, so
// engine-side aliasing bugs cannot hide behind shared pointers.
type memStore struct {
	mu          sync.Mutex
	characters  map[string]*character.Character
	encounters  map[string]*Encounter
	charSaveErr error
	encSaveErr  error
}

func newMemStore() *memStore {
	return &memStore{
		characters: make(map[string]*character.Character),
		encounters: make(map[string]*Encounter),
	}
}

func charKey(campaignID, id string) string { return campaignID + "/" + id }

func (s *memStore) GetCharacter(_ context.Context, campaignID, id string) (*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.characters[charKey(campaignID, id)]
	if !ok {
		return nil, nil
	}
	return ch.Clone(), nil
}

func (s *memStore) SaveCharacter(_ context.Context, ch *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.charSaveErr != nil {
		return s.charSaveErr
	}
	s.characters[charKey(ch.CampaignID, ch.ID)] = ch.Clone()
	return nil
}

func (s *memStore) ListCharacters(_ context.Context, campaignID string) ([]*character.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*character.Character
	for _, ch := range s.characters {
		if ch.CampaignID == campaignID {
			out = append(out, ch.Clone())
		}
	}
	return out, nil
}

func (s *memStore) GetEncounter(_ context.Context, campaignID string) (*Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, ok := s.encounters[campaignID]
	if !ok {
		return nil, nil
	}
	return enc.Clone(), nil
}

func (s *memStore) SaveEncounter(_ context.Context, campaignID string, enc *Encounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encSaveErr != nil {
		return s.encSaveErr
	}
	s.encounters[campaignID] = enc.Clone()
	return nil
}

func (s *memStore) DeleteEncounter(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.encounters, campaignID)
	return nil
}

// storedCharacter reads a character straight out of the fake, bypassing the
// engine, to assert what actually got persisted.
func (s *memStore) storedCharacter(t *testing.T, id string) *character.Character {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.characters[charKey(testCampaign, id)]
	if !ok {
		t.Fatalf("character %s not in store", id)
	}
	return ch.Clone()
}

func (s *memStore) storedEncounter(t *testing.T) *Encounter {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, ok := s.encounters[testCampaign]
	if !ok {
		t.Fatal("no encounter in store")
	}
	return enc.Clone()
}

func (s *memStore) hasEncounter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.encounters[testCampaign]
	return ok
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event.Event
}

func (n *recordingNotifier) Publish(_ string, ev event.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) byType(t event.Type) []event.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *recordingNotifier) {
	t.Helper()
	store := newMemStore()
	notifier := &recordingNotifier{}
	eng := NewEngine(store, notifier, dice.NewRoller(1), zaptest.NewLogger(t))
	return eng, store, notifier
}

func seedPC(t *testing.T, store *memStore, id, name string, hp, maxHP int) {
	t.Helper()
	seedCharacter(t, store, &character.Character{
		ID: id, CampaignID: testCampaign, Name: name, Kind: character.KindPC,
		CurrentHP: hp, MaxHP: maxHP, ArmorClass: 14, InitiativeMod: 2,
	})
}

func seedCharacter(t *testing.T, store *memStore, ch *character.Character) {
	t.Helper()
	if err := store.SaveCharacter(context.Background(), ch); err != nil {
		t.Fatalf("seed character %s: %v", ch.ID, err)
	}
}

func intPtr(v int) *int { return &v }

// startThorinGoblin seeds Thorin (PC, 20/20) and starts combat against one
// goblin (7 HP, initiative 12). Returns the goblin's generated id.
func startThorinGoblin(t *testing.T, eng *Engine, store *memStore) (*Encounter, string) {
	t.Helper()
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	enc, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, ArmorClass: 13, Initiative: intPtr(12)}},
	})
	if err != nil {
		t.Fatalf("StartCombat: %v", err)
	}
	for id, c := range enc.Combatants {
		if c.Kind == character.KindEnemy {
			return enc, id
		}
	}
	t.Fatal("goblin not found in encounter")
	return nil, ""
}

func TestStartCombatBuildsTurnOrder(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	seedPC(t, store, "mira", "Mira", 12, 12)

	enc, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15, "mira": 10},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, ArmorClass: 13, Initiative: intPtr(12)}},
	})
	if err != nil {
		t.Fatalf("StartCombat: %v", err)
	}

	if !enc.IsActive || enc.RoundNumber != 1 || enc.CurrentTurnIndex != 0 {
		t.Fatalf("fresh encounter: active=%v round=%d index=%d", enc.IsActive, enc.RoundNumber, enc.CurrentTurnIndex)
	}
	if len(enc.TurnOrder) != 3 {
		t.Fatalf("turn order has %d entries, want 3", len(enc.TurnOrder))
	}
	names := make([]string, len(enc.TurnOrder))
	for i, id := range enc.TurnOrder {
		names[i] = enc.Combatants[id].Name
	}
	for i, want := range []string{"Thorin", "Goblin", "Mira"} {
		if names[i] != want {
			t.Fatalf("turn order names = %v, want [Thorin Goblin Mira]", names)
		}
	}

	stored := store.storedEncounter(t)
	if stored.ID != enc.ID || len(stored.Combatants) != 3 {
		t.Fatalf("stored encounter diverges: %+v", stored)
	}

	started := notifier.byType(event.TypeCombatStarted)
	if len(started) != 1 {
		t.Fatalf("CombatStarted events = %d, want 1", len(started))
	}
	payload := started[0].Payload.(event.CombatStartedPayload)
	if payload.EncounterID != enc.ID || payload.Round != 1 || len(payload.TurnOrder) != 3 {
		t.Fatalf("CombatStarted payload = %+v", payload)
	}
}

func TestStartCombatAlreadyActive(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	startThorinGoblin(t, eng, store)

	_, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 9},
	})
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("StartCombat = %v, want ErrAlreadyActive", err)
	}
}

func TestStartCombatNoCombatants(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{})
	if !errors.Is(err, ErrNoCombatants) {
		t.Fatalf("StartCombat = %v, want ErrNoCombatants", err)
	}
}

func TestStartCombatUnknownPartyMember(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"ghost": 10},
	})
	if !errors.Is(err, ErrUnknownCombatant) {
		t.Fatalf("StartCombat = %v, want ErrUnknownCombatant", err)
	}
}

func TestStartCombatRejectsEnemyKindRosterEntry(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedCharacter(t, store, &character.Character{
		ID: "boss", CampaignID: testCampaign, Name: "Boss", Kind: character.KindEnemy,
		CurrentHP: 30, MaxHP: 30,
	})

	_, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"boss": 18},
	})
	if !errors.Is(err, ErrInvalidEnemy) {
		t.Fatalf("StartCombat = %v, want ErrInvalidEnemy", err)
	}
}

func TestStartCombatRejectsBadEnemySpec(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	for _, spec := range []EnemySpec{
		{Name: "", MaxHP: 5},
		{Name: "Wisp", MaxHP: 0},
	} {
		_, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
			Enemies: []EnemySpec{spec},
		})
		if !errors.Is(err, ErrInvalidEnemy) {
			t.Fatalf("StartCombat(%+v) = %v, want ErrInvalidEnemy", spec, err)
		}
	}
}

func TestStartCombatRollsMissingEnemyInitiative(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	enc, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		Enemies: []EnemySpec{{Name: "Wolf", MaxHP: 11, ArmorClass: 13, InitiativeMod: 3}},
	})
	if err != nil {
		t.Fatalf("StartCombat: %v", err)
	}
	wolf := enc.Combatants[enc.TurnOrder[0]]
	if wolf.Initiative < 4 || wolf.Initiative > 23 {
		t.Fatalf("rolled initiative %d outside 1d20+3 range", wolf.Initiative)
	}
}

func TestStartCombatUnknownSurprisedID(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)

	_, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15},
		SurprisedIDs:     []string{"ghost"},
	})
	if !errors.Is(err, ErrUnknownCombatant) {
		t.Fatalf("StartCombat = %v, want ErrUnknownCombatant", err)
	}
}

func TestStartCombatMarksSurprisedEnemies(t *testing.T) {
	eng, _, notifier := newTestEngine(t)
	enc, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		Enemies: []EnemySpec{
			{Name: "Goblin", MaxHP: 7, Initiative: intPtr(12), Surprised: true},
			{Name: "Ogre", MaxHP: 20, Initiative: intPtr(8)},
		},
	})
	if err != nil {
		t.Fatalf("StartCombat: %v", err)
	}
	if len(enc.SurprisedIDs) != 1 {
		t.Fatalf("surprised = %v, want one entry", enc.SurprisedIDs)
	}

	payload := notifier.byType(event.TypeCombatStarted)[0].Payload.(event.CombatStartedPayload)
	surprisedByName := map[string]bool{}
	for _, entry := range payload.TurnOrder {
		surprisedByName[entry.Name] = entry.Surprised
	}
	if !surprisedByName["Goblin"] || surprisedByName["Ogre"] {
		t.Fatalf("surprise flags in payload = %v", surprisedByName)
	}
}

func TestAdvanceTurnRotation(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	seedPC(t, store, "mira", "Mira", 12, 12)
	if _, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15, "mira": 10},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, Initiative: intPtr(12)}},
	}); err != nil {
		t.Fatalf("StartCombat: %v", err)
	}
	notifier.reset()

	// Full rotation twice: indices cycle and the round increments exactly
	// once per wrap.
	want := []struct {
		index int
		round int
		name  string
	}{
		{1, 1, "Goblin"},
		{2, 1, "Mira"},
		{0, 2, "Thorin"},
		{1, 2, "Goblin"},
		{2, 2, "Mira"},
		{0, 3, "Thorin"},
	}
	for i, w := range want {
		enc, err := eng.AdvanceTurn(context.Background(), testCampaign)
		if err != nil {
			t.Fatalf("AdvanceTurn %d: %v", i, err)
		}
		if enc.CurrentTurnIndex != w.index || enc.RoundNumber != w.round {
			t.Fatalf("advance %d: index=%d round=%d, want index=%d round=%d",
				i, enc.CurrentTurnIndex, enc.RoundNumber, w.index, w.round)
		}
	}

	advances := notifier.byType(event.TypeTurnAdvanced)
	if len(advances) != len(want) {
		t.Fatalf("TurnAdvanced events = %d, want %d", len(advances), len(want))
	}
	for i, w := range want {
		payload := advances[i].Payload.(event.TurnAdvancedPayload)
		if payload.CombatantName != w.name || payload.Round != w.round {
			t.Fatalf("advance %d payload = %+v, want name=%s round=%d", i, payload, w.name, w.round)
		}
	}
}

func TestAdvanceTurnSkipsDefeated(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	seedPC(t, store, "mira", "Mira", 12, 12)
	if _, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15, "mira": 10},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, Initiative: intPtr(12)}},
	}); err != nil {
		t.Fatalf("StartCombat: %v", err)
	}

	var goblinID string
	for id, c := range store.storedEncounter(t).Combatants {
		if c.Kind == character.KindEnemy {
			goblinID = id
		}
	}
	if err := eng.ApplyDamage(context.Background(), testCampaign, goblinID, 7, false); err != nil {
		t.Fatalf("ApplyDamage: %v", err)
	}

	// Order is [Thorin Goblin Mira]; the dead goblin is skipped in place.
	enc, err := eng.AdvanceTurn(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if got := enc.Combatants[enc.CurrentCombatantID()].Name; got != "Mira" {
		t.Fatalf("current turn = %s, want Mira", got)
	}
	if len(enc.TurnOrder) != 3 {
		t.Fatalf("turn order shrank to %d", len(enc.TurnOrder))
	}

	enc, err = eng.AdvanceTurn(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if got := enc.Combatants[enc.CurrentCombatantID()].Name; got != "Thorin" {
		t.Fatalf("current turn = %s, want Thorin", got)
	}
	if enc.RoundNumber != 2 {
		t.Fatalf("round = %d, want 2", enc.RoundNumber)
	}
}

func TestAdvanceTurnClearsSurpriseAfterRoundOne(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	if _, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, Initiative: intPtr(12), Surprised: true}},
	}); err != nil {
		t.Fatalf("StartCombat: %v", err)
	}

	enc, err := eng.AdvanceTurn(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if len(enc.SurprisedIDs) != 1 {
		t.Fatalf("round 1: surprised = %v, want the goblin", enc.SurprisedIDs)
	}

	enc, err = eng.AdvanceTurn(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if enc.RoundNumber != 2 {
		t.Fatalf("round = %d, want 2", enc.RoundNumber)
	}
	if len(enc.SurprisedIDs) != 0 {
		t.Fatalf("round 2: surprised = %v, want none", enc.SurprisedIDs)
	}
	if stored := store.storedEncounter(t); len(stored.SurprisedIDs) != 0 {
		t.Fatalf("stored surprise flags survived the round: %v", stored.SurprisedIDs)
	}
}

func TestAdvanceTurnNoActiveCombat(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if _, err := eng.AdvanceTurn(context.Background(), testCampaign); !errors.Is(err, ErrNoActiveCombat) {
		t.Fatalf("AdvanceTurn = %v, want ErrNoActiveCombat", err)
	}
}

func TestEndCombatClearsEncounterKeepsRoster(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	startThorinGoblin(t, eng, store)

	// Damage taken during combat outlives the encounter.
	if err := eng.ApplyDamage(context.Background(), testCampaign, "thorin", 7, false); err != nil {
		t.Fatalf("ApplyDamage: %v", err)
	}

	enc, err := eng.EndCombat(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("EndCombat: %v", err)
	}
	if store.hasEncounter() {
		t.Fatal("encounter still in store after EndCombat")
	}
	if got := store.storedCharacter(t, "thorin").CurrentHP; got != 13 {
		t.Fatalf("thorin hp after combat = %d, want 13", got)
	}

	ended := notifier.byType(event.TypeCombatEnded)
	if len(ended) != 1 {
		t.Fatalf("CombatEnded events = %d, want 1", len(ended))
	}
	payload := ended[0].Payload.(event.CombatEndedPayload)
	if payload.EncounterID != enc.ID || payload.Forced {
		t.Fatalf("CombatEnded payload = %+v", payload)
	}

	if _, err := eng.EndCombat(context.Background(), testCampaign); !errors.Is(err, ErrNoActiveCombat) {
		t.Fatalf("second EndCombat = %v, want ErrNoActiveCombat", err)
	}
}

func TestSetInitiativeResortsAndKeepsCurrentTurn(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	seedPC(t, store, "mira", "Mira", 12, 12)
	if _, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15, "mira": 10},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, Initiative: intPtr(12)}},
	}); err != nil {
		t.Fatalf("StartCombat: %v", err)
	}

	// Advance to the goblin's turn, then promote Mira above everyone.
	if _, err := eng.AdvanceTurn(context.Background(), testCampaign); err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	notifier.reset()
	if err := eng.SetInitiative(context.Background(), testCampaign, "mira", 20); err != nil {
		t.Fatalf("SetInitiative: %v", err)
	}

	enc := store.storedEncounter(t)
	names := make([]string, len(enc.TurnOrder))
	for i, id := range enc.TurnOrder {
		names[i] = enc.Combatants[id].Name
	}
	for i, want := range []string{"Mira", "Thorin", "Goblin"} {
		if names[i] != want {
			t.Fatalf("turn order after re-sort = %v, want [Mira Thorin Goblin]", names)
		}
	}
	// Still the goblin's turn even though its slot moved.
	if got := enc.Combatants[enc.CurrentCombatantID()].Name; got != "Goblin" {
		t.Fatalf("current turn = %s, want Goblin", got)
	}

	if evs := notifier.byType(event.TypeTurnOrderChanged); len(evs) != 1 {
		t.Fatalf("TurnOrderChanged events = %d, want 1", len(evs))
	}
	updated := notifier.byType(event.TypeCharacterStateUpdated)
	if len(updated) != 1 {
		t.Fatalf("CharacterStateUpdated events = %d, want 1", len(updated))
	}
	payload := updated[0].Payload.(event.CharacterStateUpdatedPayload)
	if payload.Key != event.KeyInitiative || payload.Value.(int) != 20 {
		t.Fatalf("initiative payload = %+v", payload)
	}
}

func TestSetInitiativeErrors(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	if err := eng.SetInitiative(context.Background(), testCampaign, "thorin", 5); !errors.Is(err, ErrNoActiveCombat) {
		t.Fatalf("SetInitiative = %v, want ErrNoActiveCombat", err)
	}

	startThorinGoblin(t, eng, store)
	if err := eng.SetInitiative(context.Background(), testCampaign, "ghost", 5); !errors.Is(err, ErrUnknownCombatant) {
		t.Fatalf("SetInitiative = %v, want ErrUnknownCombatant", err)
	}
}

func TestCorruptEncounterForcesEnd(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	startThorinGoblin(t, eng, store)

	// Sabotage the persisted document the way a bad deploy would.
	store.mu.Lock()
	store.encounters[testCampaign].CurrentTurnIndex = 99
	store.mu.Unlock()
	notifier.reset()

	_, err := eng.AdvanceTurn(context.Background(), testCampaign)
	if !errors.Is(err, ErrCorruptEncounter) {
		t.Fatalf("AdvanceTurn = %v, want ErrCorruptEncounter", err)
	}
	if store.hasEncounter() {
		t.Fatal("corrupt encounter not cleared")
	}
	ended := notifier.byType(event.TypeCombatEnded)
	if len(ended) != 1 {
		t.Fatalf("CombatEnded events = %d, want 1", len(ended))
	}
	if payload := ended[0].Payload.(event.CombatEndedPayload); !payload.Forced {
		t.Fatalf("CombatEnded payload = %+v, want Forced", payload)
	}

	// The DM can immediately start a fresh encounter.
	if _, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 11},
	}); err != nil {
		t.Fatalf("StartCombat after forced end: %v", err)
	}
}

func TestSnapshotReturnsEncounterAndSortedRoster(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "mira", "Mira", 12, 12)
	_, goblinID := startThorinGoblin(t, eng, store)
	if err := eng.ApplyDamage(context.Background(), testCampaign, goblinID, 3, false); err != nil {
		t.Fatalf("ApplyDamage: %v", err)
	}

	// A rebuilt engine over the same store sees identical state: this is
	// the reconnect path, no event replay involved.
	fresh := NewEngine(store, &recordingNotifier{}, dice.NewRoller(2), zaptest.NewLogger(t))
	enc, roster, err := fresh.Snapshot(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if enc == nil || enc.Combatants[goblinID].CurrentHP != 4 {
		t.Fatalf("snapshot encounter = %+v, want goblin at 4 hp", enc)
	}
	if len(roster) != 2 || roster[0].Name != "Mira" || roster[1].Name != "Thorin" {
		names := make([]string, len(roster))
		for i, ch := range roster {
			names[i] = ch.Name
		}
		t.Fatalf("roster = %v, want [Mira Thorin]", names)
	}
}

func TestSnapshotNoCombat(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)

	enc, roster, err := eng.Snapshot(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if enc != nil {
		t.Fatalf("snapshot encounter = %+v, want nil", enc)
	}
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}
}

func TestSnapshotClearsCorruptEncounter(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	startThorinGoblin(t, eng, store)
	store.mu.Lock()
	store.encounters[testCampaign].TurnOrder = nil
	store.mu.Unlock()
	notifier.reset()

	enc, roster, err := eng.Snapshot(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if enc != nil {
		t.Fatalf("snapshot returned corrupt encounter: %+v", enc)
	}
	if len(roster) != 1 {
		t.Fatalf("roster size = %d, want 1", len(roster))
	}
	if store.hasEncounter() {
		t.Fatal("corrupt encounter not cleared by snapshot")
	}
	if len(notifier.byType(event.TypeCombatEnded)) != 1 {
		t.Fatal("forced CombatEnded not published")
	}
}

func TestCancelledContextBlocksWrites(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	startThorinGoblin(t, eng, store)
	notifier.reset()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := eng.ApplyDamage(ctx, testCampaign, "thorin", 7, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ApplyDamage = %v, want context.Canceled", err)
	}
	if got := store.storedCharacter(t, "thorin").CurrentHP; got != 20 {
		t.Fatalf("thorin hp = %d after cancelled op, want 20", got)
	}
	if len(notifier.byType(event.TypeCharacterStateUpdated)) != 0 {
		t.Fatal("events published for cancelled operation")
	}
}

func TestConcurrentDamageSerialized(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 20, 20)
	enc, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15},
		Enemies:          []EnemySpec{{Name: "Troll", MaxHP: 50, Initiative: intPtr(10)}},
	})
	if err != nil {
		t.Fatalf("StartCombat: %v", err)
	}
	var trollID string
	for id, c := range enc.Combatants {
		if c.Kind == character.KindEnemy {
			trollID = id
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.ApplyDamage(context.Background(), testCampaign, trollID, 1, false); err != nil {
				t.Errorf("ApplyDamage: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.storedEncounter(t).Combatants[trollID].CurrentHP; got != 25 {
		t.Fatalf("troll hp = %d after 25 serialized hits, want 25", got)
	}
}

// A classic ambush opening: the goblin wins initiative, dies before acting,
// and the first advance lands on the fighter without leaving round 1.
func TestEnemyDownBeforeActingStillRoundOne(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	seedPC(t, store, "thorin", "Thorin", 12, 12)

	enc, err := eng.StartCombat(context.Background(), testCampaign, StartCombatInput{
		PartyInitiatives: map[string]int{"thorin": 15},
		Enemies:          []EnemySpec{{Name: "Goblin", MaxHP: 7, ArmorClass: 13, Initiative: intPtr(16)}},
	})
	if err != nil {
		t.Fatalf("StartCombat: %v", err)
	}
	goblinID := enc.TurnOrder[0]
	if enc.Combatants[goblinID].Name != "Goblin" {
		t.Fatalf("goblin should act first, order starts with %q", enc.Combatants[goblinID].Name)
	}

	if err := eng.ApplyDamage(context.Background(), testCampaign, goblinID, 7, false); err != nil {
		t.Fatalf("ApplyDamage: %v", err)
	}
	stored := store.storedEncounter(t)
	if got := stored.Combatants[goblinID]; got.CurrentHP != 0 || !got.IsDefeated {
		t.Fatalf("goblin hp=%d defeated=%v, want 0/true", got.CurrentHP, got.IsDefeated)
	}

	enc, err = eng.AdvanceTurn(context.Background(), testCampaign)
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if enc.RoundNumber != 1 {
		t.Fatalf("round = %d, want 1", enc.RoundNumber)
	}
	if got := enc.CurrentCombatantID(); got != "thorin" {
		t.Fatalf("current combatant = %q, want thorin", got)
	}
	if len(enc.TurnOrder) != 2 {
		t.Fatalf("defeated goblin was removed from turn order")
	}
}
