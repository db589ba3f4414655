package scanner

import (
	"context"
	"errors"
	"path"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/apnisec/npmguard/pkg/catalog"
	"github.com/apnisec/npmguard/pkg/github"
	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/manifest"
	"github.com/apnisec/npmguard/pkg/types"
)

const platform = "github"

var defaultBranches = []string{"main", "master"}

// RepoSource is the slice of the remote repository source one scan needs.
// github.Source implements it; tests substitute fakes.
type RepoSource interface {
	ListTree(ctx context.Context, target types.ScanTarget, branch string) ([]string, error)
	FetchContent(ctx context.Context, target types.ScanTarget, filePath string) ([]byte, error)
}

// Coordinator scans one repository: it discovers manifest files anywhere in
// the tree, fetches them, parses them and matches every resulting dependency
// record against the catalog.
type Coordinator struct {
	src     RepoSource
	catalog *catalog.Catalog
	audit   *AuditWriter
	logger  *log.Logger
}

func NewCoordinator(src RepoSource, cat *catalog.Catalog, audit *AuditWriter) *Coordinator {
	return &Coordinator{
		src:     src,
		catalog: cat,
		audit:   audit,
		logger:  log.WithPrefix("scan"),
	}
}

// Scan returns the findings of one repository. A returned error means the
// target as a whole failed (no branch listable, or the credential was
// rejected); every smaller failure - one unfetchable file, one malformed
// manifest - degrades to "no additional findings from this step" with a log
// entry. A repository without manifests and a repository whose manifests
// match nothing both return an empty slice.
func (c *Coordinator) Scan(ctx context.Context, target types.ScanTarget) ([]types.Finding, error) {
	eb := oops.In("scan").With("repository", target.FullName())

	paths, err := c.listTree(ctx, target)
	if err != nil {
		return nil, eb.Wrapf(err, "failed to list repository tree")
	}

	manifests := lo.Filter(paths, func(p string, _ int) bool {
		_, ok := manifest.KindOf(path.Base(p))
		return ok
	})
	if len(manifests) == 0 {
		c.logger.Info("No dependency files found", log.Repo(target.FullName()))
		return nil, nil
	}
	c.logger.Info("Found dependency files",
		log.Repo(target.FullName()), log.Int("count", len(manifests)))

	var findings []types.Finding
	for _, filePath := range manifests {
		content, err := c.src.FetchContent(ctx, target, filePath)
		if err != nil {
			c.logger.Warn("Failed to fetch dependency file",
				log.Repo(target.FullName()), log.FilePath(filePath), log.Err(err))
			continue
		}

		c.audit.Save(target, filePath, content)

		kind, _ := manifest.KindOf(path.Base(filePath))
		for _, record := range manifest.Parse(content, kind, filePath) {
			for _, rule := range c.catalog.Match(record.Name, record.Version) {
				findings = append(findings, types.Finding{
					Package:    record.Name,
					RawVersion: record.RawVersion,
					Version:    record.Version,
					Rule:       rule,
					Repository: target.FullName(),
					FilePath:   filePath,
					Platform:   platform,
				})
			}
		}
	}

	return findings, nil
}

// listTree tries the target's branch hint first, then the default branch
// names. An authentication failure aborts immediately: retrying other
// branches with a rejected credential cannot succeed.
func (c *Coordinator) listTree(ctx context.Context, target types.ScanTarget) ([]string, error) {
	branches := lo.Uniq(lo.Compact(append([]string{target.Branch}, defaultBranches...)))

	var lastErr error
	for _, branch := range branches {
		paths, err := c.src.ListTree(ctx, target, branch)
		if err == nil {
			return paths, nil
		}
		if errors.Is(err, github.ErrAuthentication) {
			return nil, err
		}
		c.logger.Debug("Branch not listable",
			log.Repo(target.FullName()), log.String("branch", branch), log.Err(err))
		lastErr = err
	}
	return nil, lastErr
}
