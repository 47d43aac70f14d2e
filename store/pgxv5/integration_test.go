//go:build integration

package pgxv5

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stickerlandia/printq/store"
	"github.com/stickerlandia/printq/store/storetest"
	"github.com/stickerlandia/printq/test"
)

var pool *pgxpool.Pool

// TestMain runs the store suite against a real containerized Postgres.
func TestMain(m *testing.M) {
	ctx := context.Background()

	database, err := test.InitPostgresContainer(ctx)
	if err != nil {
		fmt.Printf("A problem occurred initializing the database: %v", err)
		os.Exit(1)
	}

	dsn, err := database.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Printf("A problem occurred getting the connection string: %v", err)
		os.Exit(1)
	}

	pool, err = pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	pool.Close()
	if err := database.Terminate(ctx); err != nil {
		fmt.Printf("an error ocurred terminating the database container: %v", err)
	}
	os.Exit(code)
}

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := pool.Exec(context.Background(), "TRUNCATE items")
		if err != nil {
			t.Fatal(err)
		}
		return New(pool)
	})
}
