package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/amanthanvi/rollbook/internal/audit"
	"github.com/amanthanvi/rollbook/internal/config"
	rblog "github.com/amanthanvi/rollbook/internal/log"
	"github.com/amanthanvi/rollbook/internal/storage"
)

var loadConfigFn = config.Load

type session struct {
	cfg    config.Config
	store  *storage.Store
	logger *slog.Logger
}

func loadConfig(deps commandDeps) (config.Config, config.LoadReport, error) {
	opts := config.LoadOptions{}
	if deps.globals != nil {
		opts.ConfigPath = strings.TrimSpace(deps.globals.ConfigPath)
		if dbPath := strings.TrimSpace(deps.globals.DBPath); dbPath != "" {
			opts.Flags.DBPath = &dbPath
		}
		if auditLog := strings.TrimSpace(deps.globals.AuditLog); auditLog != "" {
			opts.Flags.AuditFile = &auditLog
		}
	}

	cfg, report, err := loadConfigFn(opts)
	if err != nil {
		return config.Config{}, report, fmt.Errorf("load config: %w", err)
	}
	return cfg, report, nil
}

func newLogger(deps commandDeps, cfg config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := rblog.New(rblog.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Fallback:  deps.logOut,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logger, _ = rblog.WithRunID(logger)
	return logger, closer, nil
}

// withStore opens the audit log and the store for one command and closes
// both afterwards.
func withStore(ctx context.Context, deps commandDeps, fn func(context.Context, *session) error) error {
	cfg, report, err := loadConfig(deps)
	if err != nil {
		return mapCommandError(err)
	}

	logger, closer, err := newLogger(deps, cfg)
	if err != nil {
		return mapCommandError(err)
	}
	defer closer.Close()
	logger.Debug("config loaded", "home", report.Home, "config_file", report.ConfigFile, "file_found", report.FileFound, "dotenv_keys", report.DotEnvKeys)

	if err := os.MkdirAll(filepath.Dir(cfg.Audit.File), 0o700); err != nil {
		return mapCommandError(fmt.Errorf("create audit log directory: %w", err))
	}
	auditLog, err := audit.Open(cfg.Audit.File)
	if err != nil {
		return mapCommandError(err)
	}
	defer auditLog.Close()

	store, err := storage.Open(cfg.Storage.Path, storage.Options{
		EnforceCourseReference: cfg.Storage.EnforceCourseReference,
		Audit:                  auditLog,
		Logger:                 logger,
	})
	if err != nil {
		return mapCommandError(err)
	}
	defer store.Close()

	return mapCommandError(fn(ctx, &session{cfg: cfg, store: store, logger: logger}))
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func parseID(command, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErrorf("%s: id must be a positive integer, got %q", command, raw)
	}
	return id, nil
}

func requireOneArg(command string, args []string, what string) error {
	if len(args) != 1 {
		return usageErrorf("%s requires exactly one %s argument", command, what)
	}
	return nil
}

func noArgs(command string, args []string) error {
	if len(args) != 0 {
		return usageErrorf("%s does not accept positional arguments", command)
	}
	return nil
}

// printMutation reports the id touched by add, edit or rm.
func printMutation(deps commandDeps, verb, entity string, id int64) error {
	if deps.globals.JSON {
		return printJSON(deps.out, map[string]any{"id": id, verb: true})
	}
	if deps.globals.Quiet {
		return nil
	}
	_, err := fmt.Fprintf(deps.out, "%s %s %d\n", verb, entity, id)
	return err
}
