package manifest

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

// jsonManifest covers package.json and both package-lock.json layouts in one
// schema-tolerant shape. Fields are kept raw so declaration order can be
// preserved when walking them.
type jsonManifest struct {
	Dependencies         json.RawMessage `json:"dependencies"`
	DevDependencies      json.RawMessage `json:"devDependencies"`
	PeerDependencies     json.RawMessage `json:"peerDependencies"`
	OptionalDependencies json.RawMessage `json:"optionalDependencies"`
	Packages             json.RawMessage `json:"packages"` // lockfileVersion >= 2
}

// parseJSON merges the JSON-family formats in precedence order: declared
// dependency groups first, then the lock v2 path-keyed package map fills
// names the groups left unmet. The "dependencies" field doubles as the lock
// v1 flat map; walking it in the group pass covers both shapes, which fixes
// the v1-before-v2 fill order.
func parseJSON(content []byte, kind types.ManifestKind, path string) []types.DependencyRecord {
	logger := log.WithPrefix("manifest")

	var doc jsonManifest
	if err := json.Unmarshal(content, &doc); err != nil {
		logger.Error("Failed to parse JSON manifest", log.FilePath(path), log.Err(err))
		return nil
	}

	seen := map[string]struct{}{}
	var records []types.DependencyRecord
	add := func(name, rawVersion string, k types.ManifestKind) {
		if name == "" || rawVersion == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		records = append(records, types.DependencyRecord{
			Name:       name,
			RawVersion: rawVersion,
			Version:    NormalizeVersion(rawVersion),
			Kind:       k,
			FilePath:   path,
		})
	}

	groups := []json.RawMessage{
		doc.Dependencies,
		doc.DevDependencies,
		doc.PeerDependencies,
		doc.OptionalDependencies,
	}
	for _, group := range groups {
		for _, e := range objectEntries(group) {
			add(e.key, versionOf(e.value), kind)
		}
	}

	for _, e := range objectEntries(doc.Packages) {
		add(lockV2Name(e.key, e.value), versionOf(e.value), types.KindLockV2)
	}

	return records
}

type objEntry struct {
	key   string
	value json.RawMessage
}

// objectEntries walks a raw JSON object and returns its members in
// declaration order. An absent or wrong-typed field yields no entries; it is
// never an error.
func objectEntries(raw json.RawMessage) []objEntry {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}

	var entries []objEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		entries = append(entries, objEntry{key: key, value: value})
	}
	return entries
}

// versionOf extracts the version expression from a dependency value, which
// is either a plain string ("^4.17.20") or an object carrying a "version"
// field (lock entries). Anything else means "no entry".
func versionOf(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Version
	}
	return ""
}

// lockV2Name resolves the package name of a lock v2 entry. The entry's own
// "name" field wins when present; otherwise the name is derived from the
// last node_modules segment of the path key (scope-aware). The root entry
// ("") has neither and is skipped.
func lockV2Name(pathKey string, raw json.RawMessage) string {
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}

	const marker = "node_modules/"
	idx := strings.LastIndex(pathKey, marker)
	if idx == -1 {
		return ""
	}
	return pathKey[idx+len(marker):]
}
