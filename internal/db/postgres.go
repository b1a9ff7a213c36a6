// Package db provides database connection helpers and the schema migration.
package db

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobinsight/discovery-service/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// NewPostgresPool creates and verifies a pgxpool connection pool.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "pgxpool.New")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres ping failed")
	}

	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// No arguments: pgx sends this over the simple protocol, which accepts
	// several statements in one round trip.
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}
