// ABOUTME: Subcommands for inspecting and editing the trust store and account identities
// ABOUTME: Each command opens the configured SQLite database directly

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-otr/internal/config"
	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/keygen"
	"github.com/2389/coven-otr/internal/store"
	"github.com/2389/coven-otr/internal/trust"
)

// stdout is where command output goes; tests swap it.
var stdout io.Writer = os.Stdout

// workspace bundles what every database command needs.
type workspace struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	logger *slog.Logger
}

func openWorkspace() (*workspace, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	logger.Debug("opened database", "path", cfg.Database.Path)

	return &workspace{cfg: cfg, db: db, logger: logger}, nil
}

func (w *workspace) Close() {
	if err := w.db.Close(); err != nil {
		w.logger.Warn("closing database", "error", err)
	}
}

// vault returns the identity vault, refusing to seal without a passphrase.
func (w *workspace) vault() (*keygen.Vault, error) {
	if w.cfg.Keys.Passphrase == "" {
		return nil, errors.New("keys.passphrase is not set; identities are sealed with it")
	}
	return keygen.NewVault(w.db, w.cfg.Keys.Passphrase, keygen.ScryptParams{}), nil
}

// record appends to the audit log. The change itself already happened, so
// a failure is only logged.
func (w *workspace) record(ctx context.Context, e *store.AuditEntry) {
	if err := w.db.AppendAuditLog(ctx, e); err != nil {
		w.logger.Warn("recording audit entry", "action", e.Action, "account", e.Account, "error", err)
	}
}

func runFingerprints(ctx context.Context, args []string) error {
	var account string
	switch len(args) {
	case 0:
	case 1:
		a, err := conversation.ParseAccount(args[0])
		if err != nil {
			return err
		}
		account = a
	default:
		return errors.New("usage: coven-otr fingerprints [ACCOUNT]")
	}

	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	records, err := trust.Load(ctx, w.db, w.logger)
	if err != nil {
		return err
	}
	if account != "" {
		records = slices.DeleteFunc(records, func(r trust.Record) bool {
			return r.Key.Account != account
		})
	}

	if len(records) == 0 {
		fmt.Fprintln(stdout, "No fingerprints stored.")
		return nil
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	current := ""
	for _, r := range records {
		if r.Key.Account != current {
			current = r.Key.Account
			color.New(color.FgCyan).Fprintln(stdout, current)
		}
		fmt.Fprintf(stdout, "  %-32s %s  ", r.Key.Peer, keygen.Format(r.Fingerprint))
		if r.Verified {
			green.Fprintln(stdout, "verified")
		} else {
			yellow.Fprintln(stdout, "unverified")
		}
	}
	gray.Fprintf(stdout, "\n%d fingerprint(s)\n", len(records))
	return nil
}

func runSetVerified(ctx context.Context, args []string, verified bool) error {
	if len(args) != 3 {
		if verified {
			return errors.New("usage: coven-otr verify ACCOUNT PEER FINGERPRINT")
		}
		return errors.New("usage: coven-otr unverify ACCOUNT PEER FINGERPRINT")
	}

	key, err := conversation.Parse(args[0], args[1])
	if err != nil {
		return err
	}
	fp, err := keygen.ParseFingerprint(args[2])
	if err != nil {
		return err
	}

	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	row := store.FingerprintRow{
		Account:     key.Account,
		Peer:        key.Peer,
		Fingerprint: fp,
		Verified:    verified,
	}
	if err := w.db.WriteFingerprint(ctx, row); err != nil {
		return err
	}
	action := store.AuditUnverify
	if verified {
		action = store.AuditVerify
	}
	w.record(ctx, &store.AuditEntry{Account: key.Account, Peer: key.Peer, Action: action, Fingerprint: fp})
	w.logger.Info("updated trust", "account", key.Account, "peer", key.Peer, "fingerprint", fp, "verified", verified)

	state := "unverified"
	if verified {
		state = "verified"
	}
	color.New(color.FgGreen).Fprint(stdout, "▶ ")
	fmt.Fprintf(stdout, "%s is now %s for %s\n", keygen.Format(fp), state, key)
	return nil
}

func runForget(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: coven-otr forget ACCOUNT")
	}
	account, err := conversation.ParseAccount(args[0])
	if err != nil {
		return err
	}

	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.db.DeleteAccountFingerprints(ctx, account); err != nil {
		return err
	}
	if err := w.db.DeleteSealedIdentity(ctx, account); err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	w.record(ctx, &store.AuditEntry{Account: account, Action: store.AuditForget})

	color.New(color.FgGreen).Fprint(stdout, "▶ ")
	fmt.Fprintf(stdout, "Forgot fingerprints and identity of %s\n", account)
	return nil
}

func runKeygen(ctx context.Context, args []string) error {
	force := slices.Contains(args, "--force")
	args = slices.DeleteFunc(slices.Clone(args), func(a string) bool { return a == "--force" })
	if len(args) != 1 {
		return errors.New("usage: coven-otr keygen ACCOUNT [--force]")
	}
	account, err := conversation.ParseAccount(args[0])
	if err != nil {
		return err
	}

	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	vault, err := w.vault()
	if err != nil {
		return err
	}

	if !force {
		_, err := w.db.LoadSealedIdentity(ctx, account)
		switch {
		case err == nil:
			return fmt.Errorf("%s already has an identity; pass --force to replace it", account)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	id, err := keygen.Generate()
	if err != nil {
		return err
	}
	if err := vault.SaveIdentity(ctx, account, id); err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	w.logger.Info("generated identity", "account", account, "fingerprint", id.Fingerprint())
	w.record(ctx, &store.AuditEntry{
		Account:     account,
		Action:      store.AuditKeygen,
		Fingerprint: id.Fingerprint(),
		Detail:      map[string]any{"replaced": force},
	})

	color.New(color.FgGreen).Fprint(stdout, "▶ ")
	fmt.Fprintf(stdout, "%s  %s\n", account, keygen.Format(id.Fingerprint()))
	return nil
}

func runWhoami(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: coven-otr whoami ACCOUNT")
	}
	account, err := conversation.ParseAccount(args[0])
	if err != nil {
		return err
	}

	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	vault, err := w.vault()
	if err != nil {
		return err
	}
	id, err := vault.LoadIdentity(ctx, account)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no identity stored for %s; run coven-otr keygen %s", account, account)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s  %s\n", account, keygen.Format(id.Fingerprint()))
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	var filter store.AuditFilter
	switch len(args) {
	case 0:
	case 1:
		account, err := conversation.ParseAccount(args[0])
		if err != nil {
			return err
		}
		filter.Account = &account
	default:
		return errors.New("usage: coven-otr history [ACCOUNT]")
	}

	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()

	entries, err := w.db.ListAuditLog(ctx, filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No history.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	for _, e := range entries {
		gray.Fprintf(stdout, "%s ", e.Timestamp.Local().Format("2006-01-02 15:04:05"))
		cyan.Fprintf(stdout, "%-8s ", e.Action)
		fmt.Fprint(stdout, e.Account)
		if e.Peer != "" {
			fmt.Fprintf(stdout, " %s", e.Peer)
		}
		if e.Fingerprint != "" {
			fmt.Fprintf(stdout, "  %s", keygen.Format(e.Fingerprint))
		}
		fmt.Fprintln(stdout)
	}
	return nil
}

func runInit() error {
	return writeConfig(bufio.NewReader(os.Stdin))
}

func writeConfig(reader *bufio.Reader) error {
	fmt.Fprintln(stdout, "coven-otr configuration setup")
	fmt.Fprintln(stdout, "=============================")
	fmt.Fprintln(stdout)

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "otr.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(stdout, "\n--- Security ---")
	mode := prompt(reader, "Encryption mode (disabled/manual/auto/required)", config.DefaultMode)

	fmt.Fprintln(stdout, "\n--- Database ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Fprintln(stdout, "\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-otr configuration\n")
	cfg.WriteString("# Generated by coven-otr init\n\n")

	cfg.WriteString("security:\n")
	cfg.WriteString(fmt.Sprintf("  mode: \"%s\"\n", mode))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("keys:\n")
	cfg.WriteString("  passphrase: \"${COVEN_OTR_PASSPHRASE}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("trust:\n")
	cfg.WriteString(fmt.Sprintf("  write_queue_size: %d\n", config.DefaultWriteQueueSize))
	cfg.WriteString(fmt.Sprintf("  write_timeout: \"%s\"\n", config.DefaultWriteTimeout))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Validate before writing.
	if _, err := config.Parse([]byte(cfg.String()), outputFile); err != nil {
		return err
	}

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(stdout, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(stdout, "\nSet COVEN_OTR_PASSPHRASE, then create an identity:")
	fmt.Fprintln(stdout, "  coven-otr keygen you@example.org")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(stdout, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(stdout, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(stdout)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}
