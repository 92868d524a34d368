package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/logger"
	"roomrelay/backend/internal/presence"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const usage = `Usage: admin <command> [args]

Commands:
  history <room>          print a room's history
  members <room>          list live connections of a room
  rooms                   list rooms with registered connections
  sweep                   reclaim expired registry entries
  kick <connection_id>    unregister a connection`

var errUsage = errors.New(usage)

// tools is what the commands operate on; a nil field means the backend is not configured.
type tools struct {
	history  storage.HistoryStore
	registry registry.Registry
	rooms    func(ctx context.Context) ([]string, error)
	presence *presence.Manager
}

func main() {
	cfg, err := config.Read()
	logger.Setup(cfg.LogLevel, true)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t, closeAll, err := openTools(ctx, cfg, os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open backends")
	}
	defer closeAll()

	if err := run(ctx, t, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Println(usage)
			os.Exit(1)
		}
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

// openTools connects only the backends the command needs.
func openTools(ctx context.Context, cfg config.Config, command string) (*tools, func(), error) {
	t := &tools{}
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if command == "history" {
		if cfg.HistoryBackend != config.BackendPostgres && cfg.HistoryBackend != config.BackendSQLite {
			return nil, closeAll, fmt.Errorf("history needs HISTORY_BACKEND postgres or sqlite, have %q", cfg.HistoryBackend)
		}
		db, err := storage.Open(cfg.HistoryBackend, cfg.DatabaseDSN, false)
		if err != nil {
			return nil, closeAll, err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, sqlDB.Close)
		}
		t.history = storage.NewStorageService(db)
		return t, closeAll, nil
	}

	// the in-memory registry lives inside the relay process, so only Redis can be inspected
	if cfg.RegistryBackend != config.BackendRedis {
		return nil, closeAll, fmt.Errorf("%s needs REGISTRY_BACKEND redis, have %q", command, cfg.RegistryBackend)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	closers = append(closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, closeAll, err
	}

	reg := registry.NewRedis(rdb, registry.WithKeyPrefix(cfg.RedisPrefix))
	t.registry = reg
	t.rooms = reg.Rooms
	t.presence = presence.NewManager(reg, cfg.ConnectionTTL)
	return t, closeAll, nil
}

func run(ctx context.Context, t *tools, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "history":
		if len(args) != 2 {
			return errUsage
		}
		return printHistory(ctx, t.history, args[1], out)
	case "members":
		if len(args) != 2 {
			return errUsage
		}
		return printMembers(ctx, t.registry, args[1], out)
	case "rooms":
		rooms, err := t.rooms(ctx)
		if err != nil {
			return err
		}
		for _, r := range rooms {
			fmt.Fprintln(out, r)
		}
		return nil
	case "sweep":
		reclaimed, err := t.presence.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Reclaimed %d expired connections.\n", len(reclaimed))
		return nil
	case "kick":
		if len(args) != 2 {
			return errUsage
		}
		if err := t.presence.Leave(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Connection %s has been removed.\n", args[1])
		return nil
	default:
		return errUsage
	}
}

func printHistory(ctx context.Context, s storage.HistoryStore, roomID string, out io.Writer) error {
	entries, err := s.ReadAll(ctx, roomID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tSENDER\tBODY")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Sequence, e.RecordedAt.Format(time.RFC3339), e.SenderUserID, e.Body)
	}
	return w.Flush()
}

func printMembers(ctx context.Context, reg registry.Registry, roomID string, out io.Writer) error {
	members, err := reg.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONNECTION\tUSER\tEXPIRES")
	for _, m := range members {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.ConnectionID, m.UserID, m.ExpiresAt.Format(time.RFC3339))
	}
	return w.Flush()
}
