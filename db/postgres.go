package db

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared connection pool. Stores read it directly.
var Pool *pgxpool.Pool

func Connect() {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	var err error
	Pool, err = pgxpool.New(context.Background(), url)
	if err != nil {
		log.Fatalf("Unable to create connection pool: %v", err)
	}

	if err := Pool.Ping(context.Background()); err != nil {
		log.Fatalf("Unable to reach database: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully")
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}
