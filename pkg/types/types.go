package types

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var (
	SeverityNames = []string{
		"UNKNOWN",
		"LOW",
		"MEDIUM",
		"HIGH",
	}
	SeverityColor = []func(a ...interface{}) string{
		color.New(color.FgCyan).SprintFunc(),
		color.New(color.FgBlue).SprintFunc(),
		color.New(color.FgYellow).SprintFunc(),
		color.New(color.FgRed).SprintFunc(),
	}
)

func NewSeverity(severity string) (Severity, error) {
	for i, name := range SeverityNames {
		if severity == name {
			return Severity(i), nil
		}
	}
	return SeverityUnknown, fmt.Errorf("unknown severity: %s", severity)
}

func ColorizeSeverity(severity string) string {
	for i, name := range SeverityNames {
		if severity == name {
			return SeverityColor[i](severity)
		}
	}
	return color.New(color.FgBlue).SprintFunc()(severity)
}

func (s Severity) String() string {
	return SeverityNames[s]
}

// RuleOrigin tells where a vulnerability rule came from.
type RuleOrigin string

const (
	OriginBuiltin  RuleOrigin = "builtin"
	OriginExternal RuleOrigin = "external"
)

// VulnerabilityRule describes one vulnerable version range of a package.
// Range uses npm constraint syntax, e.g. ">=8.0.0 <8.17.1" or "<4.17.21".
type VulnerabilityRule struct {
	PackageName string     `json:"package_name"`
	Range       string     `json:"range"`
	Severity    Severity   `json:"severity"`
	ID          string     `json:"id"` // CVE ID or a malicious-package marker
	Description string     `json:"description,omitempty"`
	Origin      RuleOrigin `json:"origin,omitempty"`
}

// ManifestKind identifies one of the recognized dependency-manifest formats.
type ManifestKind string

const (
	KindPackageManifest ManifestKind = "package.json"
	KindLockV1          ManifestKind = "package-lock.json"
	KindLockV2          ManifestKind = "package-lock.json/v2"
	KindYarnLock        ManifestKind = "yarn.lock"
	KindPnpmLock        ManifestKind = "pnpm-lock.yaml"
)

// DependencyRecord is one normalized dependency parsed out of a manifest.
// Version is the concrete installed version with range operators stripped;
// RawVersion keeps the expression as declared.
type DependencyRecord struct {
	Name       string       `json:"name"`
	RawVersion string       `json:"raw_version"`
	Version    string       `json:"version"`
	Kind       ManifestKind `json:"kind"`
	FilePath   string       `json:"file_path"`
}

// ScanTarget identifies one repository to scan. Branch is an optional hint
// tried before the default branch names.
type ScanTarget struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

// FullName returns the owner/name form used by the GitHub API.
func (t ScanTarget) FullName() string {
	return t.Owner + "/" + t.Name
}

// Finding is one package/version match against a vulnerability rule.
// Immutable once produced.
type Finding struct {
	Package    string            `json:"package"`
	RawVersion string            `json:"version"`
	Version    string            `json:"clean_version"`
	Rule       VulnerabilityRule `json:"rule"`
	Repository string            `json:"repository"`
	FilePath   string            `json:"file"`
	Platform   string            `json:"platform"`
}

// Summary holds derived counts for one orchestrator run. It is always
// recomputed from the finding set, never mutated on its own.
type Summary struct {
	Platform      string    `json:"platform"`
	Targets       []string  `json:"targets"`
	FailedTargets []string  `json:"failed_targets,omitempty"`
	Total         int       `json:"total_vulnerabilities"`
	High          int       `json:"high_severity"`
	Medium        int       `json:"medium_severity"`
	Low           int       `json:"low_severity"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// NewSummary derives a Summary from a finding slice.
func NewSummary(findings []Finding, targets, failed []string, started, finished time.Time) Summary {
	s := Summary{
		Platform:      "github",
		Targets:       targets,
		FailedTargets: failed,
		Total:         len(findings),
		StartedAt:     started,
		FinishedAt:    finished,
	}
	for _, f := range findings {
		switch f.Rule.Severity {
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
	}
	return s
}
