package catalog

import (
	"encoding/csv"
	"io"
	"strings"

	_ "embed"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

// MaliciousRuleID marks packages published during the shai-hulud-2 npm
// compromise. These have no CVE but are flagged at HIGH severity.
const MaliciousRuleID = "MALICIOUS-PACKAGE-SHAI-HULUD-2"

//go:embed malicious.csv
var maliciousCSV string

// builtinRules returns the seed rule set: a small curated CVE list plus the
// embedded malicious-package campaign list.
func builtinRules() map[string][]types.VulnerabilityRule {
	rules := map[string][]types.VulnerabilityRule{
		"braces": {
			{Range: "<3.0.3", Severity: types.SeverityHigh, ID: "CVE-2024-4068",
				Description: "ReDoS vulnerability in braces package"},
		},
		"ws": {
			{Range: ">=8.0.0 <8.17.1", Severity: types.SeverityHigh, ID: "CVE-2024-37890",
				Description: "Resource exhaustion / unhandled exception"},
			{Range: ">=7.0.0 <7.4.6", Severity: types.SeverityHigh, ID: "CVE-2021-32640",
				Description: "ReDoS vulnerability in Sec-WebSocket-Protocol header parsing"},
			{Range: ">=6.0.0 <6.2.2", Severity: types.SeverityHigh, ID: "CVE-2021-32640",
				Description: "ReDoS vulnerability in Sec-WebSocket-Protocol header parsing"},
		},
		"lodash": {
			{Range: "<4.17.21", Severity: types.SeverityHigh, ID: "CVE-2021-23337",
				Description: "Command injection via template function"},
		},
		"minimist": {
			{Range: "<1.2.6", Severity: types.SeverityHigh, ID: "CVE-2020-7598",
				Description: "Prototype pollution in minimist"},
		},
		"tar": {
			{Range: "<4.4.15 || >=5.0.0 <5.0.7 || >=6.0.0 <6.1.2", Severity: types.SeverityHigh, ID: "CVE-2021-32804",
				Description: "Path traversal in tar archive extraction"},
		},
		"got": {
			{Range: "<11.8.5", Severity: types.SeverityMedium, ID: "CVE-2022-33987",
				Description: "HTTP request smuggling in got"},
		},
	}
	for name, pkgRules := range rules {
		for i := range pkgRules {
			pkgRules[i].PackageName = name
			pkgRules[i].Origin = types.OriginBuiltin
		}
	}

	appendMaliciousRules(rules)
	return rules
}

// appendMaliciousRules merges the campaign list into the seed set. The CSV
// holds "name,= 1.0.0 || = 1.0.1" rows; spaces are stripped so the range
// parses as a plain comparator set.
func appendMaliciousRules(rules map[string][]types.VulnerabilityRule) {
	r := csv.NewReader(strings.NewReader(maliciousCSV))
	r.FieldsPerRecord = 2

	// header
	if _, err := r.Read(); err != nil {
		log.Error("Malformed malicious package list header", log.Err(err))
		return
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("Skipping malformed malicious package row", log.Err(err))
			continue
		}
		name := strings.TrimSpace(record[0])
		rangeExpr := strings.ReplaceAll(record[1], " ", "")
		if name == "" || rangeExpr == "" {
			continue
		}
		rules[name] = append(rules[name], types.VulnerabilityRule{
			PackageName: name,
			Range:       rangeExpr,
			Severity:    types.SeverityHigh,
			ID:          MaliciousRuleID,
			Description: "Package reported as malicious in the shai-hulud-2 npm compromise list",
			Origin:      types.OriginBuiltin,
		})
	}
}
