package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pulse-api/internal/repository"
	"pulse-api/pkg/database"
)

const usage = "Usage: go run ./cmd/migrate [up|drop|seed|reset]"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	command := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewPostgresDB(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		if err := execAll(ctx, db, schema, "Created"); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ All tables created successfully")

	case "drop":
		if err := execAll(ctx, db, dropStatements, "Dropped"); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ All tables dropped successfully")

	case "seed":
		n, err := repository.Seed(ctx, repository.NewPostgresRepositories(db).Questions, time.Now())
		if err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		fmt.Printf("✅ Seeded %d questions\n", n)

	case "reset":
		if err := execAll(ctx, db, dropStatements, "Dropped"); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		if err := execAll(ctx, db, schema, "Created"); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ Schema reset successfully")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS voters (
		id TEXT PRIMARY KEY,
		token TEXT UNIQUE NOT NULL,
		origin_address TEXT,
		vote_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('binary', 'multi_choice', 'rating', 'text', 'ranking', 'ab_test')),
		options JSONB NOT NULL DEFAULT '{}'::jsonb,
		category TEXT,
		starts_at TIMESTAMPTZ,
		ends_at TIMESTAMPTZ,
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One vote per (question, voter); voter_seq is the voter's ordinal
	`CREATE TABLE IF NOT EXISTS votes (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		voter_id TEXT NOT NULL REFERENCES voters(id) ON DELETE CASCADE,
		response JSONB NOT NULL,
		voter_seq INTEGER NOT NULL,
		origin_address TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (question_id, voter_id)
	)`,

	`CREATE TABLE IF NOT EXISTS xp_ledger (
		id TEXT PRIMARY KEY,
		voter_id TEXT NOT NULL REFERENCES voters(id) ON DELETE CASCADE,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (voter_id, reason, reference_id)
	)`,

	`CREATE TABLE IF NOT EXISTS voter_milestones (
		voter_id TEXT NOT NULL REFERENCES voters(id) ON DELETE CASCADE,
		milestone_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (voter_id, milestone_id)
	)`,

	`CREATE TABLE IF NOT EXISTS xp_claims (
		id TEXT PRIMARY KEY,
		token TEXT UNIQUE NOT NULL,
		voter_id TEXT NOT NULL REFERENCES voters(id) ON DELETE CASCADE,
		email TEXT NOT NULL,
		total_xp INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'claimed', 'expired')),
		expires_at TIMESTAMPTZ NOT NULL,
		claimed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_votes_question_id ON votes(question_id)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_voter_id ON votes(voter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_created_at ON votes(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_ledger_voter_id ON xp_ledger(voter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_claims_voter_id ON xp_claims(voter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_window ON questions(starts_at, ends_at)`,
}

var dropStatements = []string{
	`DROP TABLE IF EXISTS xp_claims CASCADE`,
	`DROP TABLE IF EXISTS voter_milestones CASCADE`,
	`DROP TABLE IF EXISTS xp_ledger CASCADE`,
	`DROP TABLE IF EXISTS votes CASCADE`,
	`DROP TABLE IF EXISTS questions CASCADE`,
	`DROP TABLE IF EXISTS voters CASCADE`,
}

func execAll(ctx context.Context, db *database.PostgresDB, queries []string, verb string) error {
	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
		fmt.Printf("  %s: %s\n", verb, objectName(query))
	}
	return nil
}

// objectName pulls the table or index name out of a DDL statement
func objectName(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		if strings.EqualFold(f, "EXISTS") && i+1 < len(fields) {
			return strings.TrimSuffix(fields[i+1], "(")
		}
	}
	return query
}
