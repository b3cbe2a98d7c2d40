package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	boltadapter "github.com/couchcryptid/quake-monitor-service/internal/adapter/bolt"
	"github.com/couchcryptid/quake-monitor-service/internal/adapter/feed"
	"github.com/couchcryptid/quake-monitor-service/internal/config"
	"github.com/couchcryptid/quake-monitor-service/internal/model"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
)

var errCheckFailed = errors.New("connectivity check failed")

// phase is one line of the check report.
type phase struct {
	name   string
	detail string
	err    error
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration, load bundles and fetch every provider once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			phases := runCheck(cmd.Context())
			if !printReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), phases) {
				return errCheckFailed
			}
			return nil
		},
	}
}

func runCheck(ctx context.Context) []phase {
	cfg, err := config.Load()
	if err != nil {
		return []phase{{name: "config", err: err}}
	}
	phases := []phase{{name: "config", detail: fmt.Sprintf("%d provider(s), poll every %s", len(cfg.Providers), cfg.PollInterval)}}
	logger := observability.NewLogger(cfg)

	set, bundleErrs, err := model.LoadAll(cfg.ModelDir, logger)
	switch {
	case err != nil:
		phases = append(phases, phase{name: "bundles", err: err})
	case len(bundleErrs) > 0:
		phases = append(phases, phase{name: "bundles", err: fmt.Errorf("%d of %d loaded: %w", set.Len(), set.Len()+len(bundleErrs), errors.Join(bundleErrs...))})
	default:
		phases = append(phases, phase{name: "bundles", detail: fmt.Sprintf("%d loaded from %s", set.Len(), cfg.ModelDir)})
	}

	client := feed.NewClient(logger)
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			phases = append(phases, phase{name: "provider " + p.Name, detail: "disabled"})
			continue
		}
		phases = append(phases, pingProvider(ctx, client, p, cfg.FetchTimeout))
	}

	if cfg.AlertLedgerPath != "" {
		phases = append(phases, checkLedger(cfg.AlertLedgerPath))
	}
	return phases
}

func pingProvider(ctx context.Context, client *feed.Client, p config.Provider, timeout time.Duration) phase {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	records, err := client.Fetch(ctx, p)
	if err != nil {
		return phase{name: "provider " + p.Name, err: err}
	}
	return phase{name: "provider " + p.Name, detail: fmt.Sprintf("%d record(s) in %s", len(records), time.Since(start).Round(time.Millisecond))}
}

func checkLedger(path string) phase {
	ledger, err := boltadapter.Open(path)
	if err != nil {
		return phase{name: "alert ledger", err: err}
	}
	defer closeLogged(slog.Default(), "alert ledger", ledger)
	n, err := ledger.Len()
	if err != nil {
		return phase{name: "alert ledger", err: err}
	}
	return phase{name: "alert ledger", detail: fmt.Sprintf("%d alert(s) recorded", n)}
}

// printReport writes one line per phase to w and reports whether all passed.
// A failure summary goes to errw.
func printReport(w, errw io.Writer, phases []phase) bool {
	ok := true
	for _, p := range phases {
		if p.err != nil {
			ok = false
			fmt.Fprintf(w, "FAIL  %-20s %v\n", p.name, p.err)
			continue
		}
		fmt.Fprintf(w, "ok    %-20s %s\n", p.name, p.detail)
	}
	if !ok {
		fmt.Fprintln(errw, "one or more checks failed")
	}
	return ok
}
