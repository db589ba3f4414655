package notify_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apnisec/npmguard/pkg/notify"
	"github.com/apnisec/npmguard/pkg/types"
)

func finding(repo, pkg, version, id string, severity types.Severity) types.Finding {
	return types.Finding{
		Package:    pkg,
		RawVersion: version,
		Version:    version,
		Rule: types.VulnerabilityRule{
			PackageName: pkg,
			Severity:    severity,
			ID:          id,
		},
		Repository: repo,
		FilePath:   "package.json",
		Platform:   "github",
	}
}

func summaryOf(findings []types.Finding) types.Summary {
	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	return types.NewSummary(findings, []string{"acme/web", "acme/api"}, nil,
		started, started.Add(time.Minute))
}

func TestNotifier_Notify_Slack(t *testing.T) {
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	findings := []types.Finding{
		finding("acme/web", "lodash", "4.17.20", "CVE-2021-23337", types.SeverityHigh),
		finding("acme/web", "minimist", "1.2.5", "CVE-2020-7598", types.SeverityHigh),
		finding("acme/api", "got", "11.8.0", "CVE-2022-33987", types.SeverityMedium),
	}

	notify.New(srv.URL, "").Notify(findings, summaryOf(findings))

	require.NotEmpty(t, payload)
	var msg struct {
		Text        string `json:"text"`
		Attachments []struct {
			Color string `json:"color"`
			Text  string `json:"text"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Contains(t, msg.Text, "3 vulnerable packages")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "danger", msg.Attachments[0].Color)
	// Worst repository first.
	body := msg.Attachments[0].Text
	assert.Contains(t, body, "acme/web")
	assert.Contains(t, body, "lodash@4.17.20")
	assert.Less(t, strings.Index(body, "acme/web"), strings.Index(body, "acme/api"))
}

func TestNotifier_Notify_Teams(t *testing.T) {
	var payload []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	findings := []types.Finding{
		finding("acme/api", "got", "11.8.0", "CVE-2022-33987", types.SeverityMedium),
	}

	notify.New("", srv.URL).Notify(findings, summaryOf(findings))

	require.NotEmpty(t, payload)
	var card struct {
		Type       string `json:"@type"`
		ThemeColor string `json:"themeColor"`
		Title      string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(payload, &card))
	assert.Equal(t, "MessageCard", card.Type)
	assert.Equal(t, "D68910", card.ThemeColor)
	assert.Contains(t, card.Title, "1 vulnerable packages")
}

func TestNotifier_Notify_CleanScanStaysSilent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	notify.New(srv.URL, srv.URL).Notify(nil, summaryOf(nil))
	assert.False(t, called)
}

// A webhook failure must never propagate; Notify has no error to return and
// must not panic.
func TestNotifier_Notify_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	findings := []types.Finding{
		finding("acme/web", "lodash", "4.17.20", "CVE-2021-23337", types.SeverityHigh),
	}
	notify.New(srv.URL, srv.URL).Notify(findings, summaryOf(findings))
}
