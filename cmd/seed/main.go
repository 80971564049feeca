package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"document-generation-service/internal/config"
	"document-generation-service/internal/domain/model"
	pg "document-generation-service/internal/infra/db/postgres"
)

// seed prepares a database for a fresh deployment: it creates the schema and
// reports the current job counts so operators can sanity-check the store.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if err := pg.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	fmt.Println("schema is up to date")

	repo := pg.NewGenerationJobRepo(pool, pg.NewTxManager(pool))
	for _, status := range []model.JobStatus{
		model.JobStatusQueued,
		model.JobStatusProcessing,
		model.JobStatusSucceeded,
		model.JobStatusFailed,
		model.JobStatusCanceled,
	} {
		n, err := repo.CountByStatus(ctx, status)
		if err != nil {
			log.Fatalf("count %s: %v", status, err)
		}
		fmt.Printf("  %-10s %d\n", status, n)
	}
}
