package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/convoreach/backend/internal/config"
)

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(cfg config.DBConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}
