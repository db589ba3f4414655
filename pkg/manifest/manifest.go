package manifest

import (
	"strings"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

// FileNames lists the manifest base names recognized during file discovery,
// at any directory depth.
var FileNames = []string{
	"package.json",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
}

var kindByName = map[string]types.ManifestKind{
	"package.json":      types.KindPackageManifest,
	"package-lock.json": types.KindLockV1,
	"yarn.lock":         types.KindYarnLock,
	"pnpm-lock.yaml":    types.KindPnpmLock,
}

// KindOf maps a file base name to its manifest kind.
func KindOf(baseName string) (types.ManifestKind, bool) {
	kind, ok := kindByName[baseName]
	return kind, ok
}

// Parse converts raw manifest content into normalized dependency records.
// It never fails: malformed input yields no records plus a logged parse
// error, so one bad file cannot abort a larger scan.
func Parse(content []byte, kind types.ManifestKind, path string) []types.DependencyRecord {
	switch kind {
	case types.KindPackageManifest, types.KindLockV1, types.KindLockV2:
		return parseJSON(content, kind, path)
	case types.KindYarnLock:
		return parseYarnLock(content, path)
	case types.KindPnpmLock:
		return parsePnpmLock(content, path)
	default:
		log.WithPrefix("manifest").Warn("Unrecognized manifest kind",
			log.String("kind", string(kind)), log.FilePath(path))
		return nil
	}
}

// NormalizeVersion strips leading range-operator characters (^ ~ > < =) and
// surrounding space. The result is treated as a concrete installed version,
// never a range.
func NormalizeVersion(raw string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(raw), "^~><="))
}
