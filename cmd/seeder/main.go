package main

import (
	"github.com/lib/pq"

	"github.com/convoreach/backend/internal/config"
	"github.com/convoreach/backend/internal/db"
	"github.com/convoreach/backend/internal/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id SERIAL PRIMARY KEY,
		account_id INT NOT NULL DEFAULT 1,
		name TEXT NOT NULL,
		message TEXT NOT NULL,
		target_tags TEXT[] NOT NULL DEFAULT '{}',
		kind TEXT NOT NULL DEFAULT 'MANUAL',
		status TEXT NOT NULL DEFAULT 'DRAFT',
		scheduled_at TIMESTAMPTZ,
		total_target INT NOT NULL DEFAULT 0,
		sent_count INT NOT NULL DEFAULT 0,
		failed_count INT NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id SERIAL PRIMARY KEY,
		account_id INT NOT NULL DEFAULT 1,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		is_group BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS dispatch_logs (
		id SERIAL PRIMARY KEY,
		campaign_id INT NOT NULL REFERENCES campaigns(id),
		customer_id INT NOT NULL REFERENCES customers(id),
		customer_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		message TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		sent_at TIMESTAMPTZ,
		error_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (campaign_id, customer_id)
	)`,
}

type seedCustomer struct {
	name  string
	phone string
	tags  []string
}

var customers = []seedCustomer{
	{"Ana Souza", "5511999990001", []string{"vip", "sp"}},
	{"Bruno Lima", "5511999990002", []string{"sp"}},
	{"Carla Mendes", "5521999990003", []string{"vip", "rj"}},
	{"Diego Alves", "5521999990004", []string{"rj"}},
	{"Elisa Rocha", "5531999990005", []string{"lead"}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		panic(err)
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
	}

	for _, c := range customers {
		_, err := conn.Exec(
			`INSERT INTO customers (account_id, name, phone, tags) VALUES (1, $1, $2, $3)`,
			c.name, c.phone, pq.Array(c.tags),
		)
		if err != nil {
			log.Fatal().Str("customer", c.name).Err(err).Msg("seed customer failed")
		}
	}

	_, err = conn.Exec(
		`INSERT INTO campaigns (account_id, name, message, target_tags)
		 VALUES (1, 'Welcome blast', 'Oi {{nome}}! Confirme seu numero {{telefone}}.', $1)`,
		pq.Array([]string{"vip", "lead"}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("seed campaign failed")
	}

	log.Info().Int("customers", len(customers)).Msg("seed data loaded")
}
