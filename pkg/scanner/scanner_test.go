package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apnisec/npmguard/pkg/catalog"
	"github.com/apnisec/npmguard/pkg/db"
	"github.com/apnisec/npmguard/pkg/github"
	"github.com/apnisec/npmguard/pkg/scanner"
	"github.com/apnisec/npmguard/pkg/types"
)

// fakeSource serves scripted repositories: a tree per branch and content per
// path. Branches and paths not in the maps fail.
type fakeSource struct {
	mu       sync.Mutex
	trees    map[string][]string // "repo@branch" -> paths
	files    map[string]string   // "repo:path" -> content
	treeErr  error               // overrides trees when set
	fetchErr map[string]error    // per "repo:path" fetch failures
	fetched  []string
}

func (f *fakeSource) ListTree(_ context.Context, target types.ScanTarget, branch string) ([]string, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	paths, ok := f.trees[target.Name+"@"+branch]
	if !ok {
		return nil, errors.New("branch not found")
	}
	return paths, nil
}

func (f *fakeSource) FetchContent(_ context.Context, target types.ScanTarget, filePath string) ([]byte, error) {
	key := target.Name + ":" + filePath
	f.mu.Lock()
	f.fetched = append(f.fetched, key)
	f.mu.Unlock()
	if err, ok := f.fetchErr[key]; ok {
		return nil, err
	}
	content, ok := f.files[key]
	if !ok {
		return nil, errors.New("file not found")
	}
	return []byte(content), nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	store, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c, err := catalog.Load(store)
	require.NoError(t, err)
	return c
}

func TestCoordinator_Scan(t *testing.T) {
	cat := testCatalog(t)
	target := types.ScanTarget{Owner: "acme", Name: "web", Branch: "main"}

	t.Run("findings across nested manifests", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{
				"web@main": {
					"README.md",
					"package.json",
					"frontend/yarn.lock",
					"docs/notes.txt",
				},
			},
			files: map[string]string{
				"web:package.json":      `{"dependencies": {"lodash": "^4.17.20", "left-pad": "1.3.0"}}`,
				"web:frontend/yarn.lock": "ws@^8.0.0:\n  version \"8.17.0\"\n",
			},
		}

		findings, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		require.NoError(t, err)
		require.Len(t, findings, 2)

		assert.Equal(t, "lodash", findings[0].Package)
		assert.Equal(t, "^4.17.20", findings[0].RawVersion)
		assert.Equal(t, "4.17.20", findings[0].Version)
		assert.Equal(t, "CVE-2021-23337", findings[0].Rule.ID)
		assert.Equal(t, "acme/web", findings[0].Repository)
		assert.Equal(t, "package.json", findings[0].FilePath)
		assert.Equal(t, "github", findings[0].Platform)

		assert.Equal(t, "ws", findings[1].Package)
		assert.Equal(t, "8.17.0", findings[1].Version)
		assert.Equal(t, "CVE-2024-37890", findings[1].Rule.ID)
		assert.Equal(t, "frontend/yarn.lock", findings[1].FilePath)
	})

	t.Run("clean repository yields no findings", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{"web@main": {"package.json"}},
			files: map[string]string{"web:package.json": `{"dependencies": {"react": "^18.0.0"}}`},
		}

		findings, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})

	t.Run("repository without manifests yields no findings", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{"web@main": {"README.md", "main.go"}},
		}

		findings, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		require.NoError(t, err)
		assert.Empty(t, findings)
		assert.Empty(t, src.fetched)
	})

	t.Run("falls back to default branch names", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{"web@master": {"package.json"}},
			files: map[string]string{"web:package.json": `{"dependencies": {"minimist": "1.2.5"}}`},
		}

		findings, err := scanner.NewCoordinator(src, cat, nil).
			Scan(context.Background(), types.ScanTarget{Owner: "acme", Name: "web", Branch: "trunk"})
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "CVE-2020-7598", findings[0].Rule.ID)
	})

	t.Run("no listable branch fails the target", func(t *testing.T) {
		src := &fakeSource{trees: map[string][]string{}}

		_, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		assert.ErrorContains(t, err, "failed to list repository tree")
	})

	t.Run("authentication failure aborts without trying other branches", func(t *testing.T) {
		src := &fakeSource{treeErr: github.ErrAuthentication}

		_, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		assert.ErrorIs(t, err, github.ErrAuthentication)
	})

	t.Run("unfetchable file is skipped, not fatal", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{"web@main": {"package.json", "api/package.json"}},
			files: map[string]string{
				"web:api/package.json": `{"dependencies": {"got": "11.8.0"}}`,
			},
			fetchErr: map[string]error{"web:package.json": errors.New("boom")},
		}

		findings, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "CVE-2022-33987", findings[0].Rule.ID)
	})

	t.Run("malformed manifest is skipped, not fatal", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{"web@main": {"package.json", "yarn.lock"}},
			files: map[string]string{
				"web:package.json": `{"dependencies": {`,
				"web:yarn.lock":    "braces@^3.0.0:\n  version \"3.0.2\"\n",
			},
		}

		findings, err := scanner.NewCoordinator(src, cat, nil).Scan(context.Background(), target)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Equal(t, "CVE-2024-4068", findings[0].Rule.ID)
	})

	t.Run("audit copies are written for fetched manifests", func(t *testing.T) {
		auditDir := t.TempDir()
		src := &fakeSource{
			trees: map[string][]string{"web@main": {"frontend/package.json"}},
			files: map[string]string{"web:frontend/package.json": `{"dependencies": {}}`},
		}

		_, err := scanner.NewCoordinator(src, cat, scanner.NewAuditWriter(auditDir)).
			Scan(context.Background(), target)
		require.NoError(t, err)

		copied, err := os.ReadFile(filepath.Join(auditDir, "github", "web", "frontend_package.json"))
		require.NoError(t, err)
		assert.Equal(t, `{"dependencies": {}}`, string(copied))
	})
}

func TestOrchestrator_Run(t *testing.T) {
	cat := testCatalog(t)

	t.Run("aggregates findings and isolates failures", func(t *testing.T) {
		src := &fakeSource{
			trees: map[string][]string{
				"web@main": {"package.json"},
				"api@main": {"package.json"},
			},
			files: map[string]string{
				"web:package.json": `{"dependencies": {"lodash": "4.17.20"}}`,
				"api:package.json": `{"dependencies": {"ws": "8.5.0"}}`,
			},
		}
		targets := []types.ScanTarget{
			{Owner: "acme", Name: "web", Branch: "main"},
			{Owner: "acme", Name: "api", Branch: "main"},
			{Owner: "acme", Name: "gone", Branch: "main"},
		}

		orchestrator := scanner.NewOrchestrator(scanner.NewCoordinator(src, cat, nil), 2)
		findings, summary := orchestrator.Run(context.Background(), targets)

		require.Len(t, findings, 2)
		assert.Equal(t, 2, summary.Total)
		assert.Equal(t, 2, summary.High)
		assert.Equal(t, 0, summary.Medium)
		assert.ElementsMatch(t, []string{"acme/web", "acme/api", "acme/gone"}, summary.Targets)
		assert.Equal(t, []string{"acme/gone"}, summary.FailedTargets)
		assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	})

	t.Run("empty target list", func(t *testing.T) {
		orchestrator := scanner.NewOrchestrator(scanner.NewCoordinator(&fakeSource{}, cat, nil), 2)
		findings, summary := orchestrator.Run(context.Background(), nil)
		assert.Empty(t, findings)
		assert.Equal(t, 0, summary.Total)
	})

	t.Run("cancelled context dispatches nothing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		src := &fakeSource{
			trees: map[string][]string{"web@main": {"package.json"}},
			files: map[string]string{"web:package.json": `{"dependencies": {"lodash": "4.17.20"}}`},
		}
		orchestrator := scanner.NewOrchestrator(scanner.NewCoordinator(src, cat, nil), 2)
		findings, summary := orchestrator.Run(ctx, []types.ScanTarget{
			{Owner: "acme", Name: "web", Branch: "main"},
		})
		assert.Empty(t, findings)
		assert.Empty(t, summary.Targets)
	})
}
