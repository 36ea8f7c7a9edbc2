package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/NplusM420/think-marketplace/internal/catalog"
	"github.com/NplusM420/think-marketplace/internal/database"
	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/logger"
	"github.com/NplusM420/think-marketplace/internal/queue"
	"github.com/NplusM420/think-marketplace/internal/tui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, database.Migrate)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration(cmd, database.MigrateDown)
	},
}

func runMigration(cmd *cobra.Command, apply func(*sqlx.DB) error) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := database.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := apply(db); err != nil {
		return err
	}
	version, dirty, err := database.Version(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

var hashCodeCmd = &cobra.Command{
	Use:   "hash-code",
	Short: "Print the bcrypt hash of an admin code for ADMIN_CODE_HASH",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := promptSecret(cmd, "Admin code: ")
		if err != nil {
			return err
		}
		if code == "" {
			return errors.New("admin code must not be empty")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin code: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

// promptSecret reads a line without echo when stdin is a terminal, and as
// plain input otherwise so the command can be piped.
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read admin code: %w", err)
		}
		return string(bytes.TrimSpace(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read admin code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var reviewServer string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Open the moderation queue against a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := queue.NewHTTPClient(reviewServer)
		if err != nil {
			return err
		}

		code := os.Getenv("ADMIN_CODE")
		if code == "" {
			if code, err = promptSecret(cmd, "Admin code: "); err != nil {
				return err
			}
		}
		if err := client.Login(ctx, code); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		defer func() {
			logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Logout(logoutCtx)
		}()

		// The TUI owns the terminal, so queue logging is discarded.
		return tui.Run(ctx, queue.New(client, logger.NewNop()))
	},
}

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write one catalog snapshot of approved listings",
	Long: `Write one catalog snapshot of approved listings.

With --output the snapshot goes to that file ("-" for stdout). Without it the
snapshot is written to every destination configured under export.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		store := listing.NewStore(db)

		switch exportOutput {
		case "-":
			return catalog.ExportJSONL(ctx, store, cmd.OutOrStdout())
		case "":
		default:
			var buf bytes.Buffer
			if err := catalog.ExportJSONL(ctx, store, &buf); err != nil {
				return err
			}
			return catalog.NewFileDestination(exportOutput).Write(ctx, buf.Bytes())
		}

		dests, err := exportDestinations(ctx, cfg.Export)
		if err != nil {
			return err
		}
		if len(dests) == 0 {
			return errors.New("no export destination configured; pass --output or set export.file_path / export.s3.bucket")
		}
		log, err := logger.New(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return catalog.NewScheduler(store, dests, 0, catalog.WithLogger(log)).RunOnce(ctx)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)

	reviewCmd.Flags().StringVar(&reviewServer, "server",
		envOrDefault("MARKETPLACE_URL", "http://localhost:8080"), "marketplace server URL")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", `write to this file, or "-" for stdout`)

	rootCmd.AddCommand(migrateCmd, hashCodeCmd, reviewCmd, exportCmd)
}
