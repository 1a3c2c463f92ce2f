package main

import (
	"context"
	"flag"
	"log"

	"contact_flow_app_go/config"
	"contact_flow_app_go/db"
	"contact_flow_app_go/services"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "only list attachments whose stored file is missing")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize database
	if err := db.Initialize(db.Options{
		Path:        cfg.DBPath,
		TursoURL:    cfg.TursoDatabaseURL,
		TursoToken:  cfg.TursoAuthToken,
		Environment: cfg.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	services.InitializeStorage(cfg)

	log.Println("Checking stored attachments...")
	missing, err := services.PruneMissingAttachments(context.Background(), db.DB, services.Storage, *dryRun)
	if err != nil {
		log.Fatalf("Failed to prune attachments: %v", err)
	}

	if len(missing) == 0 {
		log.Println("No orphaned attachment records found.")
		return
	}
	for i, a := range missing {
		log.Printf("[%d/%d] Request #%d: %s (%s)", i+1, len(missing), a.RequestID, a.OriginalName, a.StorageKey)
	}
	if *dryRun {
		log.Printf("Dry run: %d attachment record(s) would be removed.", len(missing))
		return
	}
	log.Printf("Removed %d attachment record(s).", len(missing))
}
