package pkg

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/urfave/cli"

	"github.com/apnisec/npmguard/pkg/catalog"
	"github.com/apnisec/npmguard/pkg/db"
	"github.com/apnisec/npmguard/pkg/github"
	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/notify"
	"github.com/apnisec/npmguard/pkg/report"
	"github.com/apnisec/npmguard/pkg/scanner"
	"github.com/apnisec/npmguard/pkg/types"
)

func scan(c *cli.Context) error {
	eb := oops.In("scan")

	owner := c.String("owner")
	if owner == "" {
		return eb.Errorf("--owner is required")
	}
	token := c.String("token")
	if token == "" {
		return eb.Errorf("a GitHub token is required (--token or GITHUB_TOKEN)")
	}

	formats := c.StringSlice("format")
	if len(formats) == 0 {
		formats = []string{string(report.FormatJSON)}
	}
	var reportFormats []report.Format
	for _, f := range formats {
		format, err := report.ParseFormat(f)
		if err != nil {
			return err
		}
		reportFormats = append(reportFormats, format)
	}

	// Interrupt stops new targets from being dispatched; in-flight targets
	// still finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(c.String("cache-dir"))
	if err != nil {
		return eb.Wrapf(err, "failed to open rule store")
	}
	defer store.Close()

	cat, err := catalog.Load(store)
	if err != nil {
		return eb.Wrapf(err, "failed to load vulnerability catalog")
	}

	src := github.NewSource(github.Config{
		Token:     token,
		PaceDelay: c.Duration("delay"),
		Retries:   c.Int("retries"),
	})

	targets, err := src.ListRepositories(ctx, owner)
	if err != nil {
		return eb.With("owner", owner).Wrapf(err, "failed to list repositories")
	}
	if len(targets) == 0 {
		log.Warn("No repositories found", log.String("owner", owner))
		return nil
	}

	coordinator := scanner.NewCoordinator(src, cat, scanner.NewAuditWriter(c.String("audit-dir")))
	orchestrator := scanner.NewOrchestrator(coordinator, c.Int("workers"))
	findings, summary := orchestrator.Run(ctx, targets)

	for _, f := range findings {
		fmt.Printf("%s  %s@%s  %s  %s (%s)\n",
			types.ColorizeSeverity(f.Rule.Severity.String()),
			f.Package, f.Version, f.Rule.ID, f.Repository, f.FilePath)
	}

	writer := report.NewWriter(c.String("report-dir"))
	for _, format := range reportFormats {
		if _, err := writer.Write(format, findings, summary); err != nil {
			return err
		}
	}

	notify.New(c.String("slack-webhook"), c.String("teams-webhook")).Notify(findings, summary)
	return nil
}
