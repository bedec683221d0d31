package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
)

// Memory is the in-process store used for development and tests. Reads and
// writes clone, so callers never share state with the store.
type Memory struct {
	mu         sync.RWMutex
	characters map[string]map[string]*character.Character
	encounters map[string]*combat.Encounter
	campaigns  map[string]*Campaign
}

func NewMemory() *Memory {
	return &Memory{
		characters: make(map[string]map[string]*character.Character),
		encounters: make(map[string]*combat.Encounter),
		campaigns:  make(map[string]*Campaign),
	}
}

func (m *Memory) GetCharacter(_ context.Context, campaignID, characterID string) (*character.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.characters[campaignID][characterID]
	if !ok {
		return nil, nil
	}
	return ch.Clone(), nil
}

func (m *Memory) SaveCharacter(_ context.Context, ch *character.Character) error {
	if err := validCharacter(ch); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.characters[ch.CampaignID]
	if !ok {
		campaign = make(map[string]*character.Character)
		m.characters[ch.CampaignID] = campaign
	}
	campaign[ch.ID] = ch.Clone()
	return nil
}

func (m *Memory) ListCharacters(_ context.Context, campaignID string) ([]*character.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	campaign := m.characters[campaignID]
	out := make([]*character.Character, 0, len(campaign))
	for _, ch := range campaign {
		out = append(out, ch.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteCharacter(_ context.Context, campaignID, characterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if campaign, ok := m.characters[campaignID]; ok {
		delete(campaign, characterID)
		if len(campaign) == 0 {
			delete(m.characters, campaignID)
		}
	}
	return nil
}

func (m *Memory) GetEncounter(_ context.Context, campaignID string) (*combat.Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enc, ok := m.encounters[campaignID]
	if !ok {
		return nil, nil
	}
	return enc.Clone(), nil
}

func (m *Memory) SaveEncounter(_ context.Context, campaignID string, enc *combat.Encounter) error {
	if campaignID == "" || enc == nil {
		return errEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encounters[campaignID] = enc.Clone()
	return nil
}

func (m *Memory) DeleteEncounter(_ context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.encounters, campaignID)
	return nil
}

func (m *Memory) GetCampaign(_ context.Context, campaignID string) (*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (m *Memory) SaveCampaign(_ context.Context, c *Campaign) error {
	if c == nil || c.ID == "" {
		return errEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	stored.UpdatedAt = time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	m.campaigns[c.ID] = &stored
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
