package catalog

import (
	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"
	"k8s.io/utils/clock"

	"github.com/apnisec/npmguard/pkg/db"
	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

// Catalog maps package names to ordered vulnerability rule lists. It is
// built once per process and never mutated afterwards, so scan workers may
// read it concurrently without synchronization.
//
// Lookup is case-sensitive and exact; scoped names ("@scope/name") are
// opaque whole strings.
type Catalog struct {
	rules  map[string][]types.VulnerabilityRule
	logger *log.Logger
}

// Load builds the catalog from the rule store. An empty store is seeded with
// the built-in rule set first and the seed is persisted, so later runs load
// instead of re-seeding.
func Load(store db.Operation) (*Catalog, error) {
	return load(store, clock.RealClock{})
}

func load(store db.Operation, cl clock.PassiveClock) (*Catalog, error) {
	logger := log.WithPrefix("catalog")

	empty, err := store.IsEmpty()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to inspect rule store")
	}
	if empty {
		if err := seed(store, cl); err != nil {
			return nil, oops.Wrapf(err, "failed to seed rule store")
		}
		logger.Info("Seeded built-in vulnerability rules")
	}

	c := &Catalog{
		rules:  map[string][]types.VulnerabilityRule{},
		logger: logger,
	}
	err = store.ForEachRules(func(pkgName string, rules []types.VulnerabilityRule) error {
		kept := make([]types.VulnerabilityRule, 0, len(rules))
		for _, rule := range rules {
			// Malformed rules are skipped, never fatal: third-party rule
			// feeds may carry ranges this grammar cannot evaluate.
			if !ValidRange(rule.Range) {
				logger.Warn("Skipping rule with unparsable range",
					log.Package(pkgName), log.String("range", rule.Range), log.String("id", rule.ID))
				continue
			}
			kept = append(kept, rule)
		}
		if len(kept) > 0 {
			c.rules[pkgName] = kept
		}
		return nil
	})
	if err != nil {
		return nil, oops.Wrapf(err, "failed to load rules")
	}

	logger.Info("Vulnerability catalog ready", log.Int("packages", len(c.rules)))
	return c, nil
}

func seed(store db.Operation, cl clock.PassiveClock) error {
	rules := builtinRules()
	err := store.BatchUpdate(func(tx *bolt.Tx) error {
		for pkgName, pkgRules := range rules {
			if err := store.PutRules(tx, pkgName, pkgRules); err != nil {
				return oops.With("package_name", pkgName).Wrapf(err, "failed to put rules")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return store.SetMetadata(db.Metadata{
		Version:  db.SchemaVersion,
		SeededAt: cl.Now().UTC(),
	})
}

// Match returns every rule under pkgName whose range the concrete version
// satisfies. A package with no rules, or a version nothing matches, returns
// nil.
func (c *Catalog) Match(pkgName, version string) []types.VulnerabilityRule {
	var matched []types.VulnerabilityRule
	for _, rule := range c.rules[pkgName] {
		if Satisfies(version, rule.Range) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Packages returns the number of packages with at least one loaded rule.
func (c *Catalog) Packages() int {
	return len(c.rules)
}
