package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/reconcore/core/internal/auth"
	"github.com/reconcore/core/internal/storage/postgres"
)

// Command-line tool to issue a new API key. Not production-grade: a
// development/operator utility for bootstrapping access to the HTTP API.
func main() {
	name := flag.String("name", "", "name/description for the API key (required)")
	days := flag.Int("days", 0, "days until expiration (0 = never expires)")
	pgURL := flag.String("postgres-url", os.Getenv("RECON_DB_DSN"), "PostgreSQL connection string")
	keyType := flag.String("key-type", envOr("RECON_API_KEY_TYPE", "sk"), "key type prefix")
	service := flag.String("service", envOr("RECON_API_SERVICE_NAME", "recon"), "service name component")
	version := flag.String("version", envOr("RECON_API_VERSION", "v1"), "key version component")
	flag.Parse()

	if *name == "" {
		fmt.Println("error: -name is required")
		flag.Usage()
		os.Exit(1)
	}
	if *pgURL == "" {
		fmt.Println("error: PostgreSQL connection string must be provided via -postgres-url or RECON_DB_DSN")
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	store, err := postgres.NewPostgresStore(ctx, *pgURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	var expiresAt *time.Time
	if *days > 0 {
		expiry := time.Now().AddDate(0, 0, *days)
		expiresAt = &expiry
	}

	apiKey, err := auth.CreateAPIKey(ctx, store, *keyType, *service, *version, *name, expiresAt)
	if err != nil {
		log.Fatalf("failed to create API key: %v", err)
	}

	fmt.Println("API key created successfully.")
	fmt.Printf("name:   %s\n", *name)
	fmt.Printf("format: %s-%s-%s-{short}-{long}\n", *keyType, *service, *version)
	if expiresAt != nil {
		fmt.Printf("expires: %s (%d days)\n", expiresAt.Format(time.RFC3339), *days)
	} else {
		fmt.Println("expires: never")
	}
	fmt.Printf("\napi key (shown once): %s\n", apiKey)
	fmt.Printf("\nusage: curl -H \"Authorization: Bearer %s\" http://localhost:8080/api/workflows\n", apiKey)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
