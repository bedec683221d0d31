package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	invite_hash TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS characters (
	campaign_id TEXT NOT NULL,
	id          TEXT NOT NULL,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (campaign_id, id)
);

CREATE TABLE IF NOT EXISTS encounters (
	campaign_id TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
`

// Postgres backs multi-node deployments. Same document model as sqlite,
// with JSONB documents and a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects, verifies the connection, and ensures the schema.
func OpenPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	stat := pool.Stat()
	logger.Info("postgres storage ready",
		zap.Int32("total_conns", stat.TotalConns()),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) GetCharacter(ctx context.Context, campaignID, characterID string) (*character.Character, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM characters WHERE campaign_id = $1 AND id = $2`,
		campaignID, characterID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) SaveCharacter(ctx context.Context, ch *character.Character) error {
	if err := validCharacter(ch); err != nil {
		return err
	}
	doc, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encode character %s: %w", ch.ID, err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO characters (campaign_id, id, doc, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (campaign_id, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		ch.CampaignID, ch.ID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save character %s: %w", ch.ID, err)
	}
	return nil
}

func (p *Postgres) ListCharacters(ctx context.Context, campaignID string) ([]*character.Character, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT doc FROM characters WHERE campaign_id = $1 ORDER BY id`, campaignID)
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

func (p *Postgres) DeleteCharacter(ctx context.Context, campaignID, characterID string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM characters WHERE campaign_id = $1 AND id = $2`,
		campaignID, characterID); err != nil {
		return fmt.Errorf("delete character %s: %w", characterID, err)
	}
	return nil
}

func (p *Postgres) GetEncounter(ctx context.Context, campaignID string) (*combat.Encounter, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT doc FROM encounters WHERE campaign_id = $1`, campaignID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) SaveEncounter(ctx context.Context, campaignID string, enc *combat.Encounter) error {
	if campaignID == "" || enc == nil {
		return errEmptyKey
	}
	doc, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO encounters (campaign_id, doc, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (campaign_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		campaignID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save encounter: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteEncounter(ctx context.Context, campaignID string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM encounters WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("delete encounter: %w", err)
	}
	return nil
}

func (p *Postgres) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	var c Campaign
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, invite_hash, created_at, updated_at FROM campaigns WHERE id = $1`,
		campaignID).Scan(&c.ID, &c.Name, &c.InviteHash, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

func (p *Postgres) SaveCampaign(ctx context.Context, c *Campaign) error {
	if c == nil || c.ID == "" {
		return errEmptyKey
	}
	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, invite_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, invite_hash = excluded.invite_hash, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.InviteHash, created, now)
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
