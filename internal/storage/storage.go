// Package storage persists campaign state. Characters and encounters are
// stored as JSON documents keyed by campaign, which keeps the three
// backends (memory, sqlite, postgres) behaviorally identical: load the
// document, let the engine mutate, write it back.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrUnknownDriver = errors.New("storage: unknown driver")

	errEmptyKey = errors.New("storage: empty key")
)

// Campaign is the per-campaign settings record. InviteHash is the bcrypt
// hash players must match to join; empty means the campaign is open.
type Campaign struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is the full persistence surface. It contains the combat engine's
// Store plus the character and campaign management the server needs.
// Lookups return (nil, nil) for absent records.
type Store interface {
	GetCharacter(ctx context.Context, campaignID, characterID string) (*character.Character, error)
	SaveCharacter(ctx context.Context, ch *character.Character) error
	ListCharacters(ctx context.Context, campaignID string) ([]*character.Character, error)
	DeleteCharacter(ctx context.Context, campaignID, characterID string) error

	GetEncounter(ctx context.Context, campaignID string) (*combat.Encounter, error)
	SaveEncounter(ctx context.Context, campaignID string, enc *combat.Encounter) error
	DeleteEncounter(ctx context.Context, campaignID string) error

	GetCampaign(ctx context.Context, campaignID string) (*Campaign, error)
	SaveCampaign(ctx context.Context, c *Campaign) error

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and tunes a backend. DSN is a file path for sqlite and a
// connection URL for postgres; memory ignores it.
type Config struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Open builds the configured store. An empty driver falls back to memory,
// which keeps development and tests usable with no flags at all.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Driver, ErrUnknownDriver)
	}
}

func validCharacter(ch *character.Character) error {
	if ch == nil || ch.ID == "" || ch.CampaignID == "" {
		return fmt.Errorf("storage: character requires id and campaign id")
	}
	return nil
}
