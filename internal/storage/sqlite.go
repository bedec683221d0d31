package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	invite_hash TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS characters (
	campaign_id TEXT NOT NULL,
	id          TEXT NOT NULL,
	doc         TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (campaign_id, id)
);

CREATE TABLE IF NOT EXISTS encounters (
	campaign_id TEXT PRIMARY KEY,
	doc         TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
`

// SQLite backs a single-node deployment with a file on disk. The pool is
// pinned to one connection: modernc's driver is happiest with a single
// writer, and WAL keeps that writer from blocking readers.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("sqlite storage ready", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) GetCharacter(ctx context.Context, campaignID, characterID string) (*character.Character, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM characters WHERE campaign_id = ? AND id = ?`,
		campaignID, characterID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	var ch character.Character
	if err := json.Unmarshal(doc, &ch); err != nil {
		return nil, fmt.Errorf("decode character %s: %w", characterID, err)
	}
	return &ch, nil
}

func (s *SQLite) SaveCharacter(ctx context.Context, ch *character.Character) error {
	if err := validCharacter(ch); err != nil {
		return err
	}
	doc, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encode character %s: %w", ch.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO characters (campaign_id, id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (campaign_id, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		ch.CampaignID, ch.ID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save character %s: %w", ch.ID, err)
	}
	return nil
}

func (s *SQLite) ListCharacters(ctx context.Context, campaignID string) ([]*character.Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM characters WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var out []*character.Character
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		var ch character.Character
		if err := json.Unmarshal(doc, &ch); err != nil {
			return nil, fmt.Errorf("decode character: %w", err)
		}
		out = append(out, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return out, nil
}

func (s *SQLite) DeleteCharacter(ctx context.Context, campaignID, characterID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM characters WHERE campaign_id = ? AND id = ?`,
		campaignID, characterID); err != nil {
		return fmt.Errorf("delete character %s: %w", characterID, err)
	}
	return nil
}

func (s *SQLite) GetEncounter(ctx context.Context, campaignID string) (*combat.Encounter, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM encounters WHERE campaign_id = ?`, campaignID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	var enc combat.Encounter
	if err := json.Unmarshal(doc, &enc); err != nil {
		return nil, fmt.Errorf("decode encounter: %w", err)
	}
	return &enc, nil
}

func (s *SQLite) SaveEncounter(ctx context.Context, campaignID string, enc *combat.Encounter) error {
	if campaignID == "" || enc == nil {
		return errEmptyKey
	}
	doc, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO encounters (campaign_id, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (campaign_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		campaignID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteEncounter(ctx context.Context, campaignID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM encounters WHERE campaign_id = ?`, campaignID); err != nil {
		return fmt.Errorf("delete encounter: %w", err)
	}
	return nil
}

func (s *SQLite) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	var c Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, invite_hash, created_at, updated_at FROM campaigns WHERE id = ?`,
		campaignID).Scan(&c.ID, &c.Name, &c.InviteHash, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

func (s *SQLite) SaveCampaign(ctx context.Context, c *Campaign) error {
	if c == nil || c.ID == "" {
		return errEmptyKey
	}
	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, invite_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, invite_hash = excluded.invite_hash, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.InviteHash, created, now)
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
