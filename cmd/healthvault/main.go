package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	consentmodels "healthvault/internal/consent/models"
	"healthvault/internal/platform/config"
	"healthvault/internal/platform/httpserver"
	"healthvault/internal/platform/logger"
)

const shutdownGrace = 10 * time.Second

var errUsage = errors.New("usage: healthvault <serve|export|erase|consent|status|ai-summary|retention> [flags]")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "healthvault:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	return dispatch(ctx, cfg, args, stdout, stderr)
}

// env is what every subcommand receives. The app is built lazily so flag
// errors never touch storage.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
	app    *app
}

func (e *env) open(ctx context.Context) (*app, error) {
	if e.app != nil {
		return e.app, nil
	}
	a, err := build(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"serve":      serveCmd,
	"export":     exportCmd,
	"erase":      eraseCmd,
	"consent":    consentCmd,
	"status":     statusCmd,
	"ai-summary": aiSummaryCmd,
	"retention":  retentionCmd,
}

func dispatch(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}

	e := &env{
		cfg:    cfg,
		logger: logger.NewWithWriter(stderr, cfg.LogLevel),
		stdout: stdout,
		stderr: stderr,
	}
	defer func() {
		if e.app != nil {
			e.app.Close()
		}
	}()
	return cmd(ctx, e, args[1:])
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// userFlag parses a flag set that needs -user and returns its value.
func userFlag(fs *flag.FlagSet, args []string) (string, error) {
	user := fs.String("user", "", "user ID")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if strings.TrimSpace(*user) == "" {
		return "", fmt.Errorf("%s: -user is required", fs.Name())
	}
	return *user, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("serve", e)
	addr := fs.String("addr", e.cfg.Server.Addr, "diagnostics listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	return httpserver.Run(ctx, httpserver.New(*addr, a.router()), shutdownGrace, e.logger)
}

// exportCmd writes the portable export bundle to stdout.
func exportCmd(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag(newFlagSet("export", e), args)
	if err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	bundle, err := a.profiles.ExportHealthProfile(ctx, userID)
	if err != nil {
		return err
	}
	return writeJSON(e.stdout, bundle)
}

// eraseCmd deletes every record held for a user. It refuses to run without
// -yes because nothing can be recovered afterwards.
func eraseCmd(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("erase", e)
	yes := fs.Bool("yes", false, "confirm irreversible erasure")
	userID, err := userFlag(fs, args)
	if err != nil {
		return err
	}
	if !*yes {
		return errors.New("erase: pass -yes to confirm")
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	deleted, err := a.profiles.DeleteHealthProfile(ctx, userID)
	if err != nil {
		return err
	}
	return writeJSON(e.stdout, map[string]bool{"erased": deleted})
}

func consentCmd(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("consent", e)
	grant := fs.String("grant", "", "comma separated consent types to grant")
	revoke := fs.String("revoke", "", "comma separated consent types to revoke")
	policy := fs.String("policy", "", "policy version the user was shown (default: current)")
	userID, err := userFlag(fs, args)
	if err != nil {
		return err
	}
	grants, revokes := splitTypes(*grant), splitTypes(*revoke)
	if len(grants) == 0 && len(revokes) == 0 {
		return errors.New("consent: nothing to record, use -grant or -revoke")
	}

	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	if len(grants) > 0 {
		decisions := make([]consentmodels.Decision, 0, len(grants))
		for _, t := range grants {
			decisions = append(decisions, consentmodels.Decision{Type: t, Granted: true, PolicyVersion: *policy})
		}
		if _, err := a.consents.RecordConsent(ctx, userID, decisions); err != nil {
			return err
		}
	}
	if len(revokes) > 0 {
		decisions := make([]consentmodels.Decision, 0, len(revokes))
		for _, t := range revokes {
			decisions = append(decisions, consentmodels.Decision{Type: t, Granted: false, PolicyVersion: *policy})
		}
		if _, err := a.consents.RecordConsent(ctx, userID, decisions); err != nil {
			return err
		}
	}
	return printStatus(ctx, e, a, userID)
}

func statusCmd(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag(newFlagSet("status", e), args)
	if err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	return printStatus(ctx, e, a, userID)
}

type statusOutput struct {
	PolicyVersion     string                 `json:"policy_version"`
	NeedsUpdate       bool                   `json:"needs_consent_update"`
	Consents          []consentmodels.Status `json:"consents"`
	ProfileVersion    int                    `json:"profile_version,omitempty"`
	Completeness      int                    `json:"completeness_score"`
	AIAnalysisEnabled bool                   `json:"ai_analysis_enabled"`
}

func printStatus(ctx context.Context, e *env, a *app, userID string) error {
	statuses, err := a.ledger.Status(ctx, userID)
	if err != nil {
		return err
	}
	needs, err := a.ledger.NeedsConsentUpdate(ctx, userID)
	if err != nil {
		return err
	}
	out := statusOutput{
		PolicyVersion:     a.ledger.PolicyVersion(),
		NeedsUpdate:       needs,
		Consents:          statuses,
		AIAnalysisEnabled: a.profiles.HasAIConsent(ctx, userID),
	}
	if p, _ := a.profiles.GetHealthProfile(ctx, userID); p != nil {
		out.ProfileVersion = p.Version
		out.Completeness = p.CompletenessScore
	}
	return writeJSON(e.stdout, out)
}

// aiSummaryCmd prints exactly what would be sent for AI analysis.
func aiSummaryCmd(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag(newFlagSet("ai-summary", e), args)
	if err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	summary, err := a.boundary.Summarize(ctx, userID)
	if err != nil {
		return err
	}
	return writeJSON(e.stdout, summary)
}

func retentionCmd(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag(newFlagSet("retention", e), args)
	if err != nil {
		return err
	}
	a, err := e.open(ctx)
	if err != nil {
		return err
	}
	purged, err := a.profiles.EnforceRetention(ctx, userID)
	if err != nil {
		return err
	}
	return writeJSON(e.stdout, map[string]bool{"purged": purged})
}

func splitTypes(csv string) []consentmodels.Type {
	var out []consentmodels.Type
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, consentmodels.Type(part))
		}
	}
	return out
}
