// Package command turns client messages into engine calls. Commands arrive
// as a name plus a loose argument map; each one parses into a typed call
// against the combat engine, so nothing downstream ever touches raw JSON.
package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
	"github.com/riddle-dm/riddle-server-go/internal/event"
)

var (
	ErrUnknownCommand = errors.New("command: unknown command")
	ErrForbidden      = errors.New("command: dm required")
	ErrBadArgument    = errors.New("command: bad argument")
)

// Engine is the combat surface commands drive. *combat.Engine satisfies it.
type Engine interface {
	StartCombat(ctx context.Context, campaignID string, input combat.StartCombatInput) (*combat.Encounter, error)
	AdvanceTurn(ctx context.Context, campaignID string) (*combat.Encounter, error)
	EndCombat(ctx context.Context, campaignID string) (*combat.Encounter, error)
	SetInitiative(ctx context.Context, campaignID, combatantID string, value int) error
	ApplyDamage(ctx context.Context, campaignID, combatantID string, amount int, critical bool) error
	ApplyHealing(ctx context.Context, campaignID, combatantID string, amount int) error
	RecordDeathSave(ctx context.Context, campaignID, characterID string, roll int) error
	SetCondition(ctx context.Context, campaignID, characterID, condition string, on bool) error
	Snapshot(ctx context.Context, campaignID string) (*combat.Encounter, []*character.Character, error)
}

// Notifier publishes events that are not engine mutations: narration hints
// and ambient effects go straight out.
type Notifier interface {
	Publish(campaignID string, ev event.Event)
}

// Actor identifies who issued a command. DM is true for the DM seat and
// for the narrator model, which acts with DM authority.
type Actor struct {
	CampaignID string
	UserID     string
	DM         bool
}

// SnapshotResult is the get_snapshot response: the full current state a
// reconnecting client rebuilds from.
type SnapshotResult struct {
	Encounter *combat.Encounter      `json:"encounter"`
	Roster    []*character.Character `json:"roster"`
}

// Dispatcher resolves and runs commands.
type Dispatcher struct {
	engine   Engine
	notifier Notifier
	logger   *zap.Logger
}

func NewDispatcher(engine Engine, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, notifier: notifier, logger: logger}
}

type handler struct {
	description string
	dmOnly      bool
	run         func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error)
}

// handlers is the closed command set. Player seats get exactly two
// commands: rolling their own death saves and pulling snapshots.
var handlers = map[string]handler{
	"start_combat": {
		description: "Start an encounter from party initiatives and an enemy list.",
		dmOnly:      true,
		run:         runStartCombat,
	},
	"advance_turn": {
		description: "Move to the next non-defeated combatant.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, _ arguments) (any, error) {
			return d.engine.AdvanceTurn(ctx, actor.CampaignID)
		},
	},
	"end_combat": {
		description: "End the encounter and discard its state.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, _ arguments) (any, error) {
			return d.engine.EndCombat(ctx, actor.CampaignID)
		},
	},
	"set_initiative": {
		description: "Override a combatant's initiative and re-sort the turn order.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			id, err := stringArg(args, "combatant_id")
			if err != nil {
				return nil, err
			}
			value, err := intArg(args, "value")
			if err != nil {
				return nil, err
			}
			return nil, d.engine.SetInitiative(ctx, actor.CampaignID, id, value)
		},
	},
	"apply_damage": {
		description: "Deal damage to a combatant or roster character.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			id, err := stringArg(args, "combatant_id")
			if err != nil {
				return nil, err
			}
			amount, err := intArg(args, "amount")
			if err != nil {
				return nil, err
			}
			critical := optBoolArg(args, "critical")
			return nil, d.engine.ApplyDamage(ctx, actor.CampaignID, id, amount, critical)
		},
	},
	"apply_healing": {
		description: "Heal a combatant or roster character; zero stabilizes a dying PC.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			id, err := stringArg(args, "combatant_id")
			if err != nil {
				return nil, err
			}
			amount, err := intArg(args, "amount")
			if err != nil {
				return nil, err
			}
			return nil, d.engine.ApplyHealing(ctx, actor.CampaignID, id, amount)
		},
	},
	"record_death_save": {
		description: "Record a death-save roll for a dying PC.",
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			id, err := stringArg(args, "character_id")
			if err != nil {
				return nil, err
			}
			roll, err := intArg(args, "roll")
			if err != nil {
				return nil, err
			}
			return nil, d.engine.RecordDeathSave(ctx, actor.CampaignID, id, roll)
		},
	},
	"set_condition": {
		description: "Add or remove a condition on a roster character.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			id, err := stringArg(args, "character_id")
			if err != nil {
				return nil, err
			}
			condition, err := stringArg(args, "condition")
			if err != nil {
				return nil, err
			}
			on := true
			if v, ok := args["on"]; ok {
				b, okB := v.(bool)
				if !okB {
					return nil, fmt.Errorf("on: %w", ErrBadArgument)
				}
				on = b
			}
			return nil, d.engine.SetCondition(ctx, actor.CampaignID, id, condition, on)
		},
	},
	"get_snapshot": {
		description: "Fetch the current encounter and roster.",
		run: func(ctx context.Context, d *Dispatcher, actor Actor, _ arguments) (any, error) {
			enc, roster, err := d.engine.Snapshot(ctx, actor.CampaignID)
			if err != nil {
				return nil, err
			}
			return SnapshotResult{Encounter: enc, Roster: roster}, nil
		},
	},
	"narrator_hint": {
		description: "Send a private hint to the DM seat.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			text, err := stringArg(args, "text")
			if err != nil {
				return nil, err
			}
			d.notifier.Publish(actor.CampaignID, event.New(event.TypeNarratorHint, actor.CampaignID, event.NarratorHintPayload{Text: text}))
			return nil, nil
		},
	},
	"ambient_effect": {
		description: "Broadcast an atmosphere cue to player seats.",
		dmOnly:      true,
		run: func(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
			effect, err := stringArg(args, "effect")
			if err != nil {
				return nil, err
			}
			description := optStringArg(args, "description")
			d.notifier.Publish(actor.CampaignID, event.New(event.TypeAmbientEffect, actor.CampaignID, event.AmbientEffectPayload{
				Effect:      effect,
				Description: description,
			}))
			return nil, nil
		},
	},
}

// Dispatch runs one command for an actor. The result is nil for plain
// acknowledgements; errors wrap the package sentinels plus whatever the
// engine reports.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, name string, args map[string]any) (any, error) {
	h, ok := handlers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
	}
	if h.dmOnly && !actor.DM {
		return nil, fmt.Errorf("%q: %w", name, ErrForbidden)
	}

	result, err := h.run(ctx, d, actor, arguments(args))
	if err != nil {
		d.logger.Warn("command failed",
			zap.String("campaign_id", actor.CampaignID),
			zap.String("user_id", actor.UserID),
			zap.String("command", name),
			zap.Error(err))
		return nil, err
	}
	d.logger.Debug("command executed",
		zap.String("campaign_id", actor.CampaignID),
		zap.String("user_id", actor.UserID),
		zap.String("command", name))
	return result, nil
}

// Info describes one command for catalog listings.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DMOnly      bool   `json:"dm_only"`
}

// Catalog lists every command, sorted by name. Clients and the narrator
// model use this for discovery instead of hardcoding the set.
func (d *Dispatcher) Catalog() []Info {
	out := make([]Info, 0, len(handlers))
	for name, h := range handlers {
		out = append(out, Info{Name: name, Description: h.description, DMOnly: h.dmOnly})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func runStartCombat(ctx context.Context, d *Dispatcher, actor Actor, args arguments) (any, error) {
	input := combat.StartCombatInput{}

	if raw, ok := args["party_initiatives"]; ok {
		m, okM := raw.(map[string]any)
		if !okM {
			return nil, fmt.Errorf("party_initiatives: %w", ErrBadArgument)
		}
		input.PartyInitiatives = make(map[string]int, len(m))
		for id, v := range m {
			n, err := asInt(v)
			if err != nil {
				return nil, fmt.Errorf("party_initiatives[%s]: %w", id, ErrBadArgument)
			}
			input.PartyInitiatives[id] = n
		}
	}

	if raw, ok := args["enemies"]; ok {
		list, okL := raw.([]any)
		if !okL {
			return nil, fmt.Errorf("enemies: %w", ErrBadArgument)
		}
		for i, item := range list {
			obj, okO := item.(map[string]any)
			if !okO {
				return nil, fmt.Errorf("enemies[%d]: %w", i, ErrBadArgument)
			}
			enemy := arguments(obj)
			name, err := stringArg(enemy, "name")
			if err != nil {
				return nil, fmt.Errorf("enemies[%d]: %w", i, err)
			}
			maxHP, err := intArg(enemy, "max_hp")
			if err != nil {
				return nil, fmt.Errorf("enemies[%d]: %w", i, err)
			}
			spec := combat.EnemySpec{
				Name:       name,
				MaxHP:      maxHP,
				ArmorClass: optIntArg(enemy, "armor_class"),
				Surprised:  optBoolArg(enemy, "surprised"),
			}
			spec.InitiativeMod = optIntArg(enemy, "initiative_mod")
			if v, ok := enemy["initiative"]; ok {
				n, err := asInt(v)
				if err != nil {
					return nil, fmt.Errorf("enemies[%d].initiative: %w", i, ErrBadArgument)
				}
				spec.Initiative = &n
			}
			input.Enemies = append(input.Enemies, spec)
		}
	}

	if raw, ok := args["surprised_ids"]; ok {
		list, okL := raw.([]any)
		if !okL {
			return nil, fmt.Errorf("surprised_ids: %w", ErrBadArgument)
		}
		for i, item := range list {
			id, okS := item.(string)
			if !okS {
				return nil, fmt.Errorf("surprised_ids[%d]: %w", i, ErrBadArgument)
			}
			input.SurprisedIDs = append(input.SurprisedIDs, id)
		}
	}

	return d.engine.StartCombat(ctx, actor.CampaignID, input)
}

type arguments map[string]any

func stringArg(args arguments, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s missing: %w", key, ErrBadArgument)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s: %w", key, ErrBadArgument)
	}
	return s, nil
}

func optStringArg(args arguments, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args arguments, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("%s missing: %w", key, ErrBadArgument)
	}
	n, err := asInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, ErrBadArgument)
	}
	return n, nil
}

func optIntArg(args arguments, key string) int {
	v, ok := args[key]
	if !ok {
		return 0
	}
	n, err := asInt(v)
	if err != nil {
		return 0
	}
	return n
}

func optBoolArg(args arguments, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// asInt accepts the numeric shapes JSON decoding produces. Fractional
// values are rejected rather than truncated.
func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}
