package catalog

import (
	npm "github.com/aquasecurity/go-npm-version/pkg"
)

// Satisfies reports whether a concrete version falls inside an npm range
// expression. Comparator sets separated by "||" are OR'd, whitespace-separated
// comparators within a set are AND'd, and a bare version means exact equality.
//
// Rule metadata and manifest versions are both untrusted third-party input,
// so an unparsable version or range evaluates to non-matching instead of
// failing the scan.
func Satisfies(version, rangeExpr string) bool {
	c, err := npm.NewConstraints(rangeExpr)
	if err != nil {
		return false
	}
	v, err := npm.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// ValidRange reports whether rangeExpr parses under the npm range grammar.
// Rules with invalid ranges are skipped at load time.
func ValidRange(rangeExpr string) bool {
	_, err := npm.NewConstraints(rangeExpr)
	return err == nil
}
