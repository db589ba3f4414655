package pkg

import (
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli"
)

func cacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "npmguard")
}

func NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "npmguard"
	app.Version = version

	app.Usage = "npm dependency vulnerability scanner for GitHub accounts"

	app.Commands = []cli.Command{
		{
			Name:   "scan",
			Usage:  "scan every repository of a GitHub user or organization",
			Action: scan,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "owner",
					Usage: "GitHub user or organization to scan",
				},
				cli.StringFlag{
					Name:   "token",
					Usage:  "GitHub API token",
					EnvVar: "GITHUB_TOKEN",
				},
				cli.DurationFlag{
					Name:  "delay",
					Usage: "pause before every GitHub request",
					Value: time.Second,
				},
				cli.IntFlag{
					Name:  "workers",
					Usage: "number of repositories scanned in parallel",
					Value: 5,
				},
				cli.IntFlag{
					Name:  "retries",
					Usage: "attempts per GitHub request",
					Value: 3,
				},
				cli.StringSliceFlag{
					Name:  "format",
					Usage: "report format, one of json, csv, html (repeatable)",
				},
				cli.StringFlag{
					Name:  "report-dir",
					Usage: "directory for report files",
					Value: "reports",
				},
				cli.StringFlag{
					Name:  "audit-dir",
					Usage: "directory for audit copies of fetched dependency files",
					Value: "scanned_files",
				},
				cli.StringFlag{
					Name:   "slack-webhook",
					Usage:  "Slack incoming webhook URL",
					EnvVar: "SLACK_WEBHOOK_URL",
				},
				cli.StringFlag{
					Name:   "teams-webhook",
					Usage:  "Microsoft Teams incoming webhook URL",
					EnvVar: "TEAMS_WEBHOOK_URL",
				},
				cli.StringFlag{
					Name:  "cache-dir",
					Usage: "cache directory path",
					Value: cacheDir(),
				},
			},
		},
	}

	return app
}
