package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sealight/filecustody/internal/api"
	"github.com/sealight/filecustody/internal/blobfs"
	"github.com/sealight/filecustody/internal/custody"
	"github.com/sealight/filecustody/internal/db"
	"github.com/sealight/filecustody/internal/keys"
	"github.com/sealight/filecustody/internal/middleware"
)

var defaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

func main() {
	var (
		port      = flag.String("port", "8000", "Server port")
		dbPath    = flag.String("db", "filecustody.db", "SQLite database path")
		dataDir   = flag.String("data-dir", "files", "Blob storage directory")
		keysDir   = flag.String("keys-dir", "keys", "RSA keypair directory")
		jwtSecret = flag.String("jwt-secret", "", "Identity provider signing secret (required)")
		origins   = flag.String("allowed-origins", "", "Comma-separated CORS origins")
	)
	flag.Parse()

	if *jwtSecret == "" {
		jwtSecretEnv := os.Getenv("JWT_SECRET")
		if jwtSecretEnv == "" {
			log.Fatal("JWT secret is required. Provide via -jwt-secret flag or JWT_SECRET env var")
		}
		*jwtSecret = jwtSecretEnv
	}

	allowedOrigins := parseOrigins(*origins, os.Getenv("ALLOWED_ORIGINS"))

	store, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized: %s", *dbPath)

	if n, err := store.SeedTags(db.DefaultTagNames); err != nil {
		log.Fatalf("Failed to seed tags: %v", err)
	} else {
		log.Printf("Seeded %d tags", n)
	}

	blobs, err := blobfs.New(*dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize blob storage: %v", err)
	}

	custodian := keys.NewCustodian(*keysDir)
	if err := custodian.EnsureKeys(); err != nil {
		log.Fatalf("Failed to ensure key material: %v", err)
	}
	log.Printf("Key material ready: %s", filepath.Dir(custodian.PrivateKeyPath))

	gateway := custody.NewGateway(store, blobs, custodian)
	verifier := middleware.NewVerifier(*jwtSecret)
	auth := middleware.NewAuthenticator(verifier, store, custodian)

	server := api.NewServer(gateway, store, auth, allowedOrigins)
	router := server.NewRouter()

	addr := fmt.Sprintf(":%s", *port)
	log.Printf("Starting server on %s", addr)
	log.Printf("API endpoints:")
	log.Printf("  POST /auth/verify")
	log.Printf("  GET  /auth/me (authenticated)")
	log.Printf("  GET  /tags (authenticated)")
	log.Printf("  POST /upload (authenticated)")
	log.Printf("  POST /upload/multiple (authenticated)")
	log.Printf("  POST /encrypt (authenticated)")
	log.Printf("  POST /decrypt (authenticated)")
	log.Printf("  GET  /files (authenticated)")
	log.Printf("  GET  /download/{category}/{filename} (authenticated)")

	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func parseOrigins(flagValue, envValue string) []string {
	raw := flagValue
	if raw == "" {
		raw = envValue
	}

	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return defaultAllowedOrigins
	}
	return origins
}
