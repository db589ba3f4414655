package manifest

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/apnisec/npmguard/pkg/types"
)

// yarnState drives the two-state line scan over yarn.lock.
type yarnState int

const (
	// seekingPackage looks for a block header: a non-comment line ending in
	// ':' that contains '@'. The text before the first '@' is the package
	// name.
	seekingPackage yarnState = iota
	// seekingVersion looks for the first subsequent line beginning with
	// "version" and captures its quoted value. A new block header reached in
	// this state abandons the current block and opens the new one.
	seekingVersion
)

// parseYarnLock scans yarn.lock with an explicit two-state machine. Only the
// first version line of a block is emitted; blocks listing several version
// specifiers for one package collapse to that first line. Scoped packages
// ("@scope/name@...") have an empty prefix before the first '@' and are
// skipped. Both are deliberate, documented limitations of this scanner.
func parseYarnLock(content []byte, path string) []types.DependencyRecord {
	seen := map[string]struct{}{}
	var records []types.DependencyRecord

	state := seekingPackage
	var current string

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if name, ok := yarnBlockHeader(line); ok {
			if name == "" {
				// scoped package, no usable name
				state = seekingPackage
				current = ""
				continue
			}
			state = seekingVersion
			current = name
			continue
		}

		if state == seekingVersion && strings.HasPrefix(line, "version") {
			version := quotedValue(line)
			if version != "" {
				if _, ok := seen[current]; !ok {
					seen[current] = struct{}{}
					records = append(records, types.DependencyRecord{
						Name:       current,
						RawVersion: version,
						Version:    version,
						Kind:       types.KindYarnLock,
						FilePath:   path,
					})
				}
			}
			state = seekingPackage
			current = ""
		}
	}

	return records
}

func yarnBlockHeader(line string) (string, bool) {
	if !strings.HasSuffix(line, ":") || !strings.Contains(line, "@") {
		return "", false
	}
	name, _, _ := strings.Cut(strings.TrimSuffix(line, ":"), "@")
	return strings.Trim(name, `"`), true
}

func quotedValue(line string) string {
	parts := strings.Split(line, `"`)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
