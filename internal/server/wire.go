package server

import (
	"errors"

	"github.com/riddle-dm/riddle-server-go/internal/auth"
	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
	"github.com/riddle-dm/riddle-server-go/internal/command"
	"github.com/riddle-dm/riddle-server-go/internal/registry"
)

// Client-to-server message types.
const (
	msgJoin    = "join"
	msgCommand = "command"
	msgSync    = "sync"
	msgCatalog = "catalog"
)

// Server-to-client message types. Combat events arrive on the same socket as
// event envelopes (type/campaign_id/timestamp/payload), not wrapped in these.
const (
	msgJoined   = "joined"
	msgSnapshot = "snapshot"
	msgResult   = "result"
	msgError    = "error"
)

// inboundMessage is the single envelope clients send. Type selects which
// fields matter.
type inboundMessage struct {
	Type string `json:"type"`

	// join
	SessionID   string `json:"session_id,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	CharacterID string `json:"character_id,omitempty"`
	IsDM        bool   `json:"is_dm,omitempty"`
	InviteCode  string `json:"invite_code,omitempty"`

	// command
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// outboundMessage is the envelope for hub-originated replies.
type outboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	Data      any    `json:"data,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// codeFor maps the error taxonomy onto stable wire codes so clients (and the
// tool-call layer) can branch without parsing message text.
func codeFor(err error) string {
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, command.ErrForbidden):
		return "forbidden"
	case errors.Is(err, command.ErrBadArgument):
		return "bad_argument"
	case errors.Is(err, combat.ErrAlreadyActive):
		return "combat_already_active"
	case errors.Is(err, combat.ErrNoActiveCombat):
		return "no_active_combat"
	case errors.Is(err, combat.ErrUnknownCombatant):
		return "unknown_combatant"
	case errors.Is(err, combat.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, combat.ErrInvalidRoll):
		return "invalid_roll"
	case errors.Is(err, combat.ErrNotDying):
		return "not_dying"
	case errors.Is(err, combat.ErrNoCombatants):
		return "no_combatants"
	case errors.Is(err, combat.ErrNoEligibleCombatants):
		return "no_eligible_combatants"
	case errors.Is(err, combat.ErrInvalidEnemy):
		return "invalid_enemy"
	case errors.Is(err, combat.ErrPartialUpdate):
		return "partial_update"
	case errors.Is(err, combat.ErrCorruptEncounter):
		return "corrupt_encounter"
	case errors.Is(err, character.ErrInvalidCondition):
		return "invalid_condition"
	case errors.Is(err, auth.ErrCodeMismatch):
		return "invalid_invite"
	case errors.Is(err, registry.ErrInvalidParticipant):
		return "invalid_join"
	default:
		return "internal"
	}
}
