// Command resetquota clears today's (UTC) scan counts. Development use only.
//
//	go run ./cmd/resetquota              # every user
//	go run ./cmd/resetquota -user <id>   # one user
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/kiwi-labs/kiwi-api/internal/config"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/quota"
	"github.com/kiwi-labs/kiwi-api/internal/store"
)

func main() {
	userFlag := flag.String("user", "", "only reset this user's count (UUID)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
	// Only the database is needed, so the full server config is not loaded.
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("fatal", "err", "DATABASE_URL is required")
		os.Exit(1)
	}

	var userID *uuid.UUID
	if *userFlag != "" {
		id, err := uuid.FromString(*userFlag)
		if err != nil {
			slog.Error("fatal", "err", fmt.Errorf("invalid -user: %w", err))
			os.Exit(1)
		}
		userID = &id
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := reset(ctx, databaseURL, userID)
	if err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
	fmt.Printf("reset %d scan quota row(s) for %s\n", n, quota.UTCDay(time.Now()).Format(time.DateOnly))
}

// reset is split from main so the deferred pool close runs before any os.Exit.
func reset(ctx context.Context, databaseURL string, userID *uuid.UUID) (int64, error) {
	ps, err := store.NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	n, err := ps.ResetScanCounts(ctx, quota.UTCDay(time.Now()), userID)
	if err != nil {
		return 0, err
	}
	if userID != nil {
		slog.Info("quota reset", "user_id", logging.UserID(*userID), "rows", n)
	}
	return n, nil
}
