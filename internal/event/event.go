// Package event defines the outbound notification vocabulary of the combat
// core: event types, their structured payloads, and the audience each type
// is routed to.
package event

import "time"

// Type indicates the category of an outbound event.
type Type string

const (
	TypeCombatStarted         Type = "COMBAT_STARTED"
	TypeTurnAdvanced          Type = "TURN_ADVANCED"
	TypeTurnOrderChanged      Type = "TURN_ORDER_CHANGED"
	TypeCharacterStateUpdated Type = "CHARACTER_STATE_UPDATED"
	TypeDeathSaveUpdated      Type = "DEATH_SAVE_UPDATED"
	TypeCombatEnded           Type = "COMBAT_ENDED"
	TypePlayerConnected       Type = "PLAYER_CONNECTED"
	TypePlayerDisconnected    Type = "PLAYER_DISCONNECTED"
	TypeNarratorHint          Type = "NARRATOR_HINT"
	TypeAmbientEffect         Type = "AMBIENT_EFFECT"
)

// Audience identifies the group of connections an event is delivered to.
type Audience string

const (
	AudienceDM      Audience = "dm"
	AudiencePlayers Audience = "players"
	AudienceAll     Audience = "all"
)

// audiences is the complete routing table. Every event type must appear
// here; there is no default audience. A type missing from this table is a
// programming error that the router reports instead of guessing.
var audiences = map[Type]Audience{
	TypeCombatStarted:         AudienceAll,
	TypeTurnAdvanced:          AudienceAll,
	TypeTurnOrderChanged:      AudienceAll,
	TypeCharacterStateUpdated: AudienceAll,
	TypeDeathSaveUpdated:      AudienceAll,
	TypeCombatEnded:           AudienceAll,
	TypePlayerConnected:       AudienceDM,
	TypePlayerDisconnected:    AudienceDM,
	TypeNarratorHint:          AudienceDM,
	TypeAmbientEffect:         AudiencePlayers,
}

// AudienceFor returns the declared audience for an event type. The second
// return value is false for undeclared types.
func AudienceFor(t Type) (Audience, bool) {
	a, ok := audiences[t]
	return a, ok
}

// Types returns every declared event type. Used by tests to assert the
// routing table stays total.
func Types() []Type {
	return []Type{
		TypeCombatStarted,
		TypeTurnAdvanced,
		TypeTurnOrderChanged,
		TypeCharacterStateUpdated,
		TypeDeathSaveUpdated,
		TypeCombatEnded,
		TypePlayerConnected,
		TypePlayerDisconnected,
		TypeNarratorHint,
		TypeAmbientEffect,
	}
}

// Canonical key names for CharacterStateUpdated payloads. All snake_case;
// the engine normalizes at its boundary so nothing upstream leaks other
// spellings onto the wire.
const (
	KeyCurrentHP  = "current_hp"
	KeyTempHP     = "temp_hp"
	KeyConditions = "conditions"
	KeyIsDefeated = "is_defeated"
	KeyInitiative = "initiative"
)

// Event is the envelope delivered to clients. Payload holds exactly one of
// the payload structs below, matching Type.
type Event struct {
	Type       Type      `json:"type"`
	CampaignID string    `json:"campaign_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload"`
}

// New creates an event with the timestamp populated.
func New(t Type, campaignID string, payload any) Event {
	return Event{
		Type:       t,
		CampaignID: campaignID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// TurnEntry is one slot of the initiative order as shown to clients.
type TurnEntry struct {
	CombatantID string `json:"combatant_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Initiative  int    `json:"initiative"`
	Surprised   bool   `json:"surprised,omitempty"`
}

// CombatStartedPayload announces a new encounter to everyone at the table.
type CombatStartedPayload struct {
	EncounterID      string      `json:"encounter_id"`
	Round            int         `json:"round"`
	CurrentTurnIndex int         `json:"current_turn_index"`
	TurnOrder        []TurnEntry `json:"turn_order"`
}

// TurnAdvancedPayload announces whose turn it now is.
type TurnAdvancedPayload struct {
	Round         int    `json:"round"`
	TurnIndex     int    `json:"turn_index"`
	CombatantID   string `json:"combatant_id"`
	CombatantName string `json:"combatant_name"`
	Surprised     bool   `json:"surprised,omitempty"`
}

// TurnOrderChangedPayload carries the re-sorted initiative order after a
// mid-combat initiative change.
type TurnOrderChangedPayload struct {
	Round            int         `json:"round"`
	CurrentTurnIndex int         `json:"current_turn_index"`
	TurnOrder        []TurnEntry `json:"turn_order"`
}

// CharacterStateUpdatedPayload reports a single changed field on one
// combatant. Key is one of the canonical Key* constants.
type CharacterStateUpdatedPayload struct {
	CombatantID string `json:"combatant_id"`
	Key         string `json:"key"`
	Value       any    `json:"value"`
}

// DeathSaveUpdatedPayload reports death-save progress for a PC at 0 HP.
// Roll is the d20 value when the update came from an explicit roll, 0 when
// it came from damage or healing.
type DeathSaveUpdatedPayload struct {
	CharacterID string `json:"character_id"`
	Roll        int    `json:"roll,omitempty"`
	Successes   int    `json:"successes"`
	Failures    int    `json:"failures"`
	Stable      bool   `json:"stable"`
	Dead        bool   `json:"dead"`
}

// CombatEndedPayload announces the encounter is over. Forced is set when the
// engine ended combat itself after detecting unrecoverable encounter state.
type CombatEndedPayload struct {
	EncounterID string `json:"encounter_id"`
	Rounds      int    `json:"rounds"`
	Forced      bool   `json:"forced,omitempty"`
}

// PlayerConnectedPayload tells the DM a player joined the session.
type PlayerConnectedPayload struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id,omitempty"`
}

// PlayerDisconnectedPayload tells the DM a player dropped.
type PlayerDisconnectedPayload struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id,omitempty"`
}

// NarratorHintPayload carries DM-only narration prompts.
type NarratorHintPayload struct {
	Text string `json:"text"`
}

// AmbientEffectPayload carries mood cues for player-facing displays.
type AmbientEffectPayload struct {
	Effect      string `json:"effect"`
	Description string `json:"description,omitempty"`
}
