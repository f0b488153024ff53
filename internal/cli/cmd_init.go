package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amanthanvi/rollbook/internal/audit"
	"github.com/amanthanvi/rollbook/internal/config"
	"github.com/amanthanvi/rollbook/internal/storage"
	"github.com/spf13/cobra"
)

func newInitCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database, audit log and a default config file",
		Example: "  rollbook init\n" +
			"  ROLLBOOK_HOME=/srv/school rollbook init --yes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := noArgs("init", args); err != nil {
				return err
			}

			cfg, report, err := loadConfig(deps)
			if err != nil {
				return mapCommandError(err)
			}
			configPath := report.ConfigFile
			yes := deps.globals != nil && deps.globals.Yes

			if !yes {
				if _, err := os.Stat(configPath); err == nil {
					return usageErrorf("init target config already exists: %s (use --yes to overwrite)", configPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return mapCommandError(err)
				}
			}

			logger, closer, err := newLogger(deps, cfg)
			if err != nil {
				return mapCommandError(err)
			}
			defer closer.Close()

			if err := os.MkdirAll(filepath.Dir(cfg.Audit.File), 0o700); err != nil {
				return mapCommandError(fmt.Errorf("init: create audit log directory: %w", err))
			}
			auditLog, err := audit.Open(cfg.Audit.File)
			if err != nil {
				return mapCommandError(err)
			}
			if err := auditLog.Close(); err != nil {
				return mapCommandError(err)
			}

			store, err := storage.Open(cfg.Storage.Path, storage.Options{
				EnforceCourseReference: cfg.Storage.EnforceCourseReference,
				Logger:                 logger,
			})
			if err != nil {
				return mapCommandError(err)
			}
			if err := store.Close(); err != nil {
				return mapCommandError(err)
			}

			if err := config.WriteFile(configPath, initialConfig(deps.globals)); err != nil {
				return mapCommandError(fmt.Errorf("init: %w", err))
			}

			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"initialized":    true,
					"db_path":        cfg.Storage.Path,
					"audit_file":     cfg.Audit.File,
					"config_path":    configPath,
					"schema_version": storage.CurrentSchemaVersion(),
				})
			}
			if deps.globals.Quiet {
				return nil
			}

			lines := []string{
				"initialized database: " + cfg.Storage.Path,
				"audit log: " + cfg.Audit.File,
				"wrote config: " + configPath,
			}
			_, err = fmt.Fprintln(deps.out, strings.Join(lines, "\n"))
			return mapCommandError(err)
		},
	}
}

// initialConfig is the default config with any --db or --audit-log override
// recorded so later commands find the same files.
func initialConfig(globals *GlobalOptions) config.Config {
	cfg := config.DefaultConfig()
	if globals == nil {
		return cfg
	}
	if dbPath := strings.TrimSpace(globals.DBPath); dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if auditLog := strings.TrimSpace(globals.AuditLog); auditLog != "" {
		cfg.Audit.File = auditLog
	}
	return cfg
}
