package db

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var Schema string

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, conn DBTX) error {
	if _, err := conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}
