package manifest

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/apnisec/npmguard/pkg/types"
)

// parsePnpmLock extracts package entries from pnpm-lock.yaml without a YAML
// decoder: entries under the top-level "packages:" key are two-space-indented
// lines starting with '/', shaped "/name@versionSpec". The name is the text
// before the first '@', and any ':'-delimited suffix (peer-dependency hash or
// the trailing key colon) is dropped from the version. Lines outside the
// packages block are ignored, as are scoped entries whose leading '@' leaves
// an empty name.
func parsePnpmLock(content []byte, path string) []types.DependencyRecord {
	seen := map[string]struct{}{}
	var records []types.DependencyRecord

	inPackages := false
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "packages:" {
			inPackages = true
			continue
		}
		if !inPackages || !strings.HasPrefix(line, "  /") {
			continue
		}

		entry := strings.TrimLeft(strings.TrimSpace(line), "/")
		name, versionSpec, ok := strings.Cut(entry, "@")
		if !ok || name == "" {
			continue
		}
		version, _, _ := strings.Cut(versionSpec, ":")
		if version == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		records = append(records, types.DependencyRecord{
			Name:       name,
			RawVersion: version,
			Version:    version,
			Kind:       types.KindPnpmLock,
			FilePath:   path,
		})
	}

	return records
}
