// Demo server: the full combat stack wired in-process against in-memory
// storage, with an open campaign and a small party pre-seeded. Useful for
// poking at the wire protocol from a browser or wscat without a database
// or config file.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/riddle-dm/riddle-server-go/internal/character"
	"github.com/riddle-dm/riddle-server-go/internal/combat"
	"github.com/riddle-dm/riddle-server-go/internal/command"
	"github.com/riddle-dm/riddle-server-go/internal/dice"
	"github.com/riddle-dm/riddle-server-go/internal/notify"
	"github.com/riddle-dm/riddle-server-go/internal/registry"
	"github.com/riddle-dm/riddle-server-go/internal/server"
	"github.com/riddle-dm/riddle-server-go/internal/storage"
)

const addr = ":8080"

func seedDemo(ctx context.Context, store storage.Store) error {
	if err := store.SaveCampaign(ctx, &storage.Campaign{ID: "demo", Name: "Demo Campaign"}); err != nil {
		return err
	}

	party := []*character.Character{
		{
			ID: "thorin", CampaignID: "demo", Name: "Thorin", Kind: character.KindPC,
			MaxHP: 24, CurrentHP: 24, ArmorClass: 16, InitiativeMod: 1,
			ControllingPlayerID: "alice",
		},
		{
			ID: "mira", CampaignID: "demo", Name: "Mira", Kind: character.KindPC,
			MaxHP: 18, CurrentHP: 18, ArmorClass: 14,
			ControllingPlayerID: "bob",
		},
		{
			ID: "pip", CampaignID: "demo", Name: "Pip", Kind: character.KindPC,
			MaxHP: 16, CurrentHP: 16, ArmorClass: 13, InitiativeMod: 3,
			ControllingPlayerID: "carol",
		},
	}
	for _, pc := range party {
		if err := store.SaveCharacter(ctx, pc); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemory()
	if err := seedDemo(ctx, store); err != nil {
		log.Fatalf("Failed to seed demo data: %v", err)
	}

	reg := registry.New(logger, 2*time.Minute, 30*time.Second)
	hub := server.NewHub(reg, store, logger)
	router := notify.NewRouter(reg, hub, logger)
	engine := combat.NewEngine(store, router, dice.NewTimeRoller(), logger)
	dispatcher := command.NewDispatcher(engine, router, logger)
	hub.Bind(dispatcher, router)

	go reg.Run(ctx, hub.DropSession)

	http.HandleFunc("/ws", hub.ServeWS)

	log.Printf("🎲 Demo server starting on %s", addr)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws", addr)
	log.Println(`🧙 Join as DM:     {"type":"join","campaign_id":"demo","user_id":"dm","is_dm":true}`)
	log.Println(`⚔️  Join as player: {"type":"join","campaign_id":"demo","user_id":"alice","character_id":"thorin"}`)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}
