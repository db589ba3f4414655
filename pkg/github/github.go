package github

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/go-github/v28/github"
	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/apnisec/npmguard/pkg/log"
	"github.com/apnisec/npmguard/pkg/types"
)

const (
	accountTypeUser         = "User"
	accountTypeOrganization = "Organization"

	perPage = 100
)

// ErrAuthentication marks a 401-class failure. The affected target is
// abandoned without retry; other targets in the run are unaffected.
var ErrAuthentication = errors.New("authentication failed")

// Config carries the values the source needs; how they are collected (flags,
// env, prompts) is the caller's concern.
type Config struct {
	Token          string
	PaceDelay      time.Duration // unconditional delay before every request
	Retries        int
	RateLimitPause time.Duration
}

// api is the slice of the GitHub API this scanner consumes. Tests substitute
// a fake; Source wires it to go-github.
type api interface {
	GetUser(ctx context.Context, login string) (*github.User, *github.Response, error)
	ListUserRepos(ctx context.Context, user string, opt *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error)
	ListOrgRepos(ctx context.Context, org string, opt *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error)
	GetTree(ctx context.Context, owner, repo, ref string) (*github.Tree, *github.Response, error)
	GetContents(ctx context.Context, owner, repo, path, ref string) (*github.RepositoryContent, *github.Response, error)
}

type client struct {
	gc *github.Client
}

func (c client) GetUser(ctx context.Context, login string) (*github.User, *github.Response, error) {
	return c.gc.Users.Get(ctx, login)
}

func (c client) ListUserRepos(ctx context.Context, user string, opt *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error) {
	return c.gc.Repositories.List(ctx, user, opt)
}

func (c client) ListOrgRepos(ctx context.Context, org string, opt *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error) {
	return c.gc.Repositories.ListByOrg(ctx, org, opt)
}

func (c client) GetTree(ctx context.Context, owner, repo, ref string) (*github.Tree, *github.Response, error) {
	return c.gc.Git.GetTree(ctx, owner, repo, ref, true)
}

func (c client) GetContents(ctx context.Context, owner, repo, contentPath, ref string) (*github.RepositoryContent, *github.Response, error) {
	file, _, resp, err := c.gc.Repositories.GetContents(ctx, owner, repo, contentPath,
		&github.RepositoryContentGetOptions{Ref: ref})
	return file, resp, err
}

// Source is the remote repository source consumed by the scanner. One Source
// (and its paced transport) is shared by every worker so request pacing is
// applied run-wide, not per target.
type Source struct {
	api    api
	http   *http.Client
	logger *log.Logger
}

func NewSource(cfg Config) *Source {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	hc := &http.Client{
		Transport: newPacedTransport(&oauth2.Transport{Source: ts}, cfg, clock.RealClock{}),
	}
	return &Source{
		api:    client{gc: github.NewClient(hc)},
		http:   hc,
		logger: log.WithPrefix("github"),
	}
}

// AccountType probes whether owner is a user or an organization. A failed
// probe falls back to treating the owner as a user; authentication failures
// surface so the run can abort early.
func (s *Source) AccountType(ctx context.Context, owner string) (string, error) {
	user, resp, err := s.api.GetUser(ctx, owner)
	if err != nil {
		if err := classify(resp, err); errors.Is(err, ErrAuthentication) {
			return "", err
		}
		s.logger.Warn("Could not determine account type, defaulting to User",
			log.String("owner", owner), log.Err(err))
		return accountTypeUser, nil
	}
	accountType := user.GetType()
	if accountType == "" {
		accountType = accountTypeUser
	}
	s.logger.Info("Detected account type",
		log.String("owner", owner), log.String("type", accountType))
	return accountType, nil
}

// ListRepositories pages through every repository of the owner, terminating
// on a short page. User listings are requested most recently updated first;
// the organization listing endpoint of this API version takes no sort
// parameters, so org repositories arrive in API default order. The default
// branch reported by the API becomes the target's branch hint.
func (s *Source) ListRepositories(ctx context.Context, owner string) ([]types.ScanTarget, error) {
	eb := oops.In("github").With("owner", owner)

	accountType, err := s.AccountType(ctx, owner)
	if err != nil {
		return nil, eb.Wrapf(err, "account type probe failed")
	}

	var targets []types.ScanTarget
	for page := 1; ; page++ {
		var repos []*github.Repository
		var resp *github.Response
		if accountType == accountTypeOrganization {
			repos, resp, err = s.api.ListOrgRepos(ctx, owner, &github.RepositoryListByOrgOptions{
				Type:        "all",
				ListOptions: github.ListOptions{Page: page, PerPage: perPage},
			})
		} else {
			repos, resp, err = s.api.ListUserRepos(ctx, owner, &github.RepositoryListOptions{
				Type:        "all",
				Sort:        "updated",
				Direction:   "desc",
				ListOptions: github.ListOptions{Page: page, PerPage: perPage},
			})
		}
		if err != nil {
			return nil, eb.With("page", page).Wrapf(classify(resp, err), "failed to list repositories")
		}

		for _, repo := range repos {
			targets = append(targets, types.ScanTarget{
				Owner:  repo.GetOwner().GetLogin(),
				Name:   repo.GetName(),
				Branch: repo.GetDefaultBranch(),
			})
		}
		if len(repos) < perPage {
			break
		}
	}

	s.logger.Info("Listed repositories",
		log.String("owner", owner),
		log.String("type", accountType),
		log.Int("count", len(targets)))
	return targets, nil
}

// ListTree returns the full recursive blob path list of one branch.
func (s *Source) ListTree(ctx context.Context, target types.ScanTarget, branch string) ([]string, error) {
	eb := oops.In("github").With("repository", target.FullName()).With("branch", branch)

	tree, resp, err := s.api.GetTree(ctx, target.Owner, target.Name, branch)
	if err != nil {
		return nil, eb.Wrapf(classify(resp, err), "failed to list tree")
	}

	var paths []string
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}
	return paths, nil
}

// FetchContent retrieves one file. Small files arrive inline base64-encoded;
// large files carry only a download URL, fetched through the same paced
// client.
func (s *Source) FetchContent(ctx context.Context, target types.ScanTarget, filePath string) ([]byte, error) {
	eb := oops.In("github").With("repository", target.FullName()).With("file_path", filePath)

	file, resp, err := s.api.GetContents(ctx, target.Owner, target.Name, filePath, "")
	if err != nil {
		return nil, eb.Wrapf(classify(resp, err), "failed to fetch contents")
	}
	if file == nil {
		return nil, eb.Errorf("path is not a file")
	}

	if content, err := file.GetContent(); err == nil && content != "" {
		return []byte(content), nil
	}

	downloadURL := file.GetDownloadURL()
	if downloadURL == "" {
		return nil, eb.Errorf("no inline content and no download URL")
	}
	return s.download(ctx, downloadURL, eb)
}

func (s *Source) download(ctx context.Context, url string, eb oops.OopsErrorBuilder) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eb.Wrapf(err, "failed to build download request")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eb.Wrapf(err, "download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eb.With("status", resp.StatusCode).Errorf("download failed")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eb.Wrapf(err, "failed to read download body")
	}
	return body, nil
}

// classify wraps 401-class failures with ErrAuthentication so callers can
// abandon the target without retrying.
func classify(resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return oops.Wrapf(ErrAuthentication, "%v", err)
	}
	return err
}
