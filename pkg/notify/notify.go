package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"
	"github.com/slack-go/slack"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

const (
	maxRepoLines    = 5
	maxFindingLines = 5
	requestTimeout  = 15 * time.Second
)

// Notifier delivers scan alerts to the configured webhooks. Delivery is best
// effort: a failed webhook is logged and never fails the scan that produced
// the findings. Clean scans stay silent.
type Notifier struct {
	slackWebhook string
	teamsWebhook string
	client       *http.Client
	logger       *log.Logger
}

func New(slackWebhook, teamsWebhook string) *Notifier {
	return &Notifier{
		slackWebhook: slackWebhook,
		teamsWebhook: teamsWebhook,
		client:       &http.Client{Timeout: requestTimeout},
		logger:       log.WithPrefix("notify"),
	}
}

// Notify sends the alert to every configured webhook. No findings, no alert.
func (n *Notifier) Notify(findings []types.Finding, summary types.Summary) {
	if len(findings) == 0 {
		n.logger.Debug("No findings, skipping notifications")
		return
	}

	if n.slackWebhook != "" {
		if err := n.notifySlack(findings, summary); err != nil {
			n.logger.Warn("Failed to deliver Slack notification", log.Err(err))
		} else {
			n.logger.Info("Slack notification delivered")
		}
	}
	if n.teamsWebhook != "" {
		if err := n.notifyTeams(findings, summary); err != nil {
			n.logger.Warn("Failed to deliver Teams notification", log.Err(err))
		} else {
			n.logger.Info("Teams notification delivered")
		}
	}
}

func (n *Notifier) notifySlack(findings []types.Finding, summary types.Summary) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":rotating_light: *npm dependency alert*: %d vulnerable packages across %d repositories",
			summary.Total, len(summary.Targets)),
		Attachments: []slack.Attachment{
			{
				Color: slackColor(summary),
				Fields: []slack.AttachmentField{
					{Title: "High", Value: fmt.Sprintf("%d", summary.High), Short: true},
					{Title: "Medium", Value: fmt.Sprintf("%d", summary.Medium), Short: true},
					{Title: "Low", Value: fmt.Sprintf("%d", summary.Low), Short: true},
					{Title: "Failed targets", Value: fmt.Sprintf("%d", len(summary.FailedTargets)), Short: true},
				},
				Text: repoBreakdown(findings),
				Footer: fmt.Sprintf("%s scan, %s to %s", summary.Platform,
					summary.StartedAt.Format(time.RFC3339), summary.FinishedAt.Format(time.RFC3339)),
			},
		},
	}
	if err := slack.PostWebhook(n.slackWebhook, msg); err != nil {
		return oops.In("notify").Wrapf(err, "slack webhook")
	}
	return nil
}

func slackColor(summary types.Summary) string {
	switch {
	case summary.High > 0:
		return "danger"
	case summary.Medium > 0:
		return "warning"
	default:
		return "#439FE0"
	}
}

// repoBreakdown renders the most affected repositories, worst first, with a
// few example findings each.
func repoBreakdown(findings []types.Finding) string {
	byRepo := lo.GroupBy(findings, func(f types.Finding) string {
		return f.Repository
	})

	repos := lo.Keys(byRepo)
	sort.Slice(repos, func(i, j int) bool {
		if len(byRepo[repos[i]]) != len(byRepo[repos[j]]) {
			return len(byRepo[repos[i]]) > len(byRepo[repos[j]])
		}
		return repos[i] < repos[j]
	})

	var b strings.Builder
	for i, repo := range repos {
		if i == maxRepoLines {
			fmt.Fprintf(&b, "... and %d more repositories\n", len(repos)-maxRepoLines)
			break
		}
		fmt.Fprintf(&b, "*%s* (%d)\n", repo, len(byRepo[repo]))
		for j, f := range byRepo[repo] {
			if j == maxFindingLines {
				fmt.Fprintf(&b, "    ... and %d more\n", len(byRepo[repo])-maxFindingLines)
				break
			}
			fmt.Fprintf(&b, "    %s@%s [%s] %s\n", f.Package, f.Version, f.Rule.Severity, f.Rule.ID)
		}
	}
	return b.String()
}

// teamsCard is the legacy MessageCard payload accepted by Teams incoming
// webhooks.
type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	Sections   []teamsSection `json:"sections"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []teamsFact `json:"facts,omitempty"`
	Text          string      `json:"text,omitempty"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (n *Notifier) notifyTeams(findings []types.Finding, summary types.Summary) error {
	eb := oops.In("notify")

	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: teamsColor(summary),
		Summary:    "npm dependency alert",
		Title: fmt.Sprintf("npm dependency alert: %d vulnerable packages across %d repositories",
			summary.Total, len(summary.Targets)),
		Sections: []teamsSection{
			{
				Facts: []teamsFact{
					{Name: "High", Value: fmt.Sprintf("%d", summary.High)},
					{Name: "Medium", Value: fmt.Sprintf("%d", summary.Medium)},
					{Name: "Low", Value: fmt.Sprintf("%d", summary.Low)},
					{Name: "Failed targets", Value: fmt.Sprintf("%d", len(summary.FailedTargets))},
				},
			},
			{
				Text: strings.ReplaceAll(repoBreakdown(findings), "\n", "<br>"),
			},
		},
	}

	body, err := json.Marshal(card)
	if err != nil {
		return eb.Wrapf(err, "failed to marshal Teams card")
	}

	resp, err := n.client.Post(n.teamsWebhook, "application/json", bytes.NewReader(body))
	if err != nil {
		return eb.Wrapf(err, "teams webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eb.With("status", resp.StatusCode).Errorf("teams webhook rejected the card")
	}
	return nil
}

func teamsColor(summary types.Summary) string {
	switch {
	case summary.High > 0:
		return "C0392B"
	case summary.Medium > 0:
		return "D68910"
	default:
		return "2471A3"
	}
}
