package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

// AuditWriter keeps copies of fetched manifest files under
// <dir>/<platform>/<repo>/. Audit copies are a side effect of scanning, not
// a source of truth: failed or partial writes are logged and otherwise
// ignored. A nil writer disables auditing.
type AuditWriter struct {
	dir    string
	logger *log.Logger
}

func NewAuditWriter(dir string) *AuditWriter {
	return &AuditWriter{
		dir:    dir,
		logger: log.WithPrefix("audit"),
	}
}

func (w *AuditWriter) Save(target types.ScanTarget, filePath string, content []byte) {
	if w == nil {
		return
	}
	repoDir := filepath.Join(w.dir, platform, target.Name)
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		w.logger.Warn("Failed to create audit directory", log.FilePath(repoDir), log.Err(err))
		return
	}

	flattened := strings.NewReplacer("/", "_", "\\", "_").Replace(filePath)
	dest := filepath.Join(repoDir, flattened)
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		w.logger.Warn("Failed to write audit copy", log.FilePath(dest), log.Err(err))
	}
}
