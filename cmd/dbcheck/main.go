package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/config"
	"github.com/snarg/voxarchive/internal/database"
)

func main() {
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.Options{VoiceType: cfg.VoiceMessageType}, zerolog.Nop())
	if err != nil {
		panic(err)
	}
	defer db.Close()

	dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")

	if len(os.Args) > 1 && os.Args[1] == "orphans" {
		fixOrphans(ctx, db, dryRun)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "backfill" {
		fixBackfill(ctx, db, dryRun)
		return
	}

	// Default: coverage counts
	c, err := db.CountTranscriptions(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println("Check                    Count")
	fmt.Println("─────────────────────────────────")
	fmt.Printf("%-25s %d\n", "voice messages", c.VoiceMessages)
	fmt.Printf("%-25s %d\n", "transcriptions", c.Transcriptions)
	fmt.Printf("%-25s %d\n", "untranscribed", max(c.VoiceMessages-(c.Transcriptions-c.Orphans), 0))
	fmt.Printf("%-25s %d\n", "orphan transcriptions", c.Orphans)
	fmt.Printf("%-25s %d\n", "wl_msg missing text", c.DenormMissing)
}

func fixOrphans(ctx context.Context, db *database.DB, dryRun bool) {
	if dryRun {
		c, err := db.CountTranscriptions(ctx)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%d transcriptions have no voice message (dry run, pass 'apply' to delete)\n", c.Orphans)
		return
	}
	n, err := db.DeleteOrphanTranscriptions(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Deleted %d orphan transcriptions\n", n)
}

func fixBackfill(ctx context.Context, db *database.DB, dryRun bool) {
	if dryRun {
		c, err := db.CountTranscriptions(ctx)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%d wl_msg rows would receive cached text (dry run, pass 'apply' to write)\n", c.DenormMissing)
		return
	}
	n, err := db.BackfillDenorm(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Backfilled %d wl_msg rows\n", n)
}
