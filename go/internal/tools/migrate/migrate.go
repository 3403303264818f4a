package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fabi086/Bingo-do-Fab-o/go/internal/dbconfig"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/gamestate"
	"github.com/fabi086/Bingo-do-Fab-o/go/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	roomID := flag.String("room", models.DefaultRoomID, "room id of the record to seed")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Create the table
	if _, err := pool.Exec(ctx, gamestate.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "create schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Seed the singleton record
	state := models.NewGameState(*roomID, time.Now().UTC())
	doc, err := json.Marshal(state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode default state: %v\n", err)
		os.Exit(1)
	}
	cmdTag, err := pool.Exec(ctx, `
        INSERT INTO game_state (id, version, state, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
    `, state.ID, state.Version, doc, state.UpdatedAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed game state: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	if cmdTag.RowsAffected() == 1 {
		fmt.Printf("Migration complete: seeded room %q\n", state.ID)
	} else {
		fmt.Printf("Migration complete: room %q already exists\n", state.ID)
	}
}
