// Package github is a supervised interface (spec component C) that polls a
// GitHub repository's open issue count on a timer and writes it into a
// graph object.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/buildinfo"
	"github.com/shc-project/shc/internal/config"
	"github.com/shc-project/shc/internal/timer"
)

// rateLimitWarningThreshold logs a warning when the remaining API rate
// budget drops below this value.
const rateLimitWarningThreshold = 100

// Interface implements supervisor.Interface by polling a repository's open
// issue count every cfg.PollIntervalSec seconds via internal/timer, writing
// the count to target.
type Interface struct {
	cfg    config.GitHubConfig
	target base.Writable
	logger *slog.Logger

	owner, repo string

	mu     sync.Mutex
	client *gogithub.Client
	poller *timer.Timer
	cancel context.CancelFunc
}

// New constructs a GitHub polling interface.
func New(cfg config.GitHubConfig, target base.Writable, logger *slog.Logger) (*Interface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	owner, repo, err := splitRepo(cfg.Repository)
	if err != nil {
		return nil, err
	}
	return &Interface{cfg: cfg, target: target, logger: logger, owner: owner, repo: repo}, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// Name implements supervisor.Interface.
func (i *Interface) Name() string {
	if i.cfg.Name != "" {
		return i.cfg.Name
	}
	return "github"
}

// Connect constructs the API client. GitHub polling has no persistent
// connection to establish, so Connect only needs to succeed once the token
// (if any) is accepted — verified on the first poll rather than here, to
// avoid spending an API call purely on a connectivity check.
func (i *Interface) Connect(ctx context.Context) error {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := gogithub.NewClient(httpClient)
	client.UserAgent = buildinfo.UserAgent()
	if i.cfg.Token != "" {
		client = client.WithAuthToken(i.cfg.Token)
	}
	i.mu.Lock()
	i.client = client
	i.mu.Unlock()
	return nil
}

// Run starts the polling timer and signals ready immediately, then blocks
// until ctx is cancelled.
func (i *Interface) Run(ctx context.Context, ready func()) error {
	runCtx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()

	interval := time.Duration(i.cfg.PollIntervalSec) * time.Second
	poller := timer.New(i.Name(), timer.Every{Delta: interval}, i.logger)
	i.mu.Lock()
	i.poller = poller
	i.mu.Unlock()

	poller.Subscribe(pollWritable{i}, nil)
	poller.Start()
	defer poller.Stop()

	ready()
	<-runCtx.Done()
	return nil
}

// pollWritable adapts Interface.poll to base.Writable so it can subscribe
// to a *timer.Timer like any other connectable.
type pollWritable struct{ i *Interface }

func (p pollWritable) Identity() base.Identity { return p.i }
func (p pollWritable) Write(ctx context.Context, _ any, _ base.Origin) error {
	return p.i.poll(ctx)
}

func (i *Interface) poll(ctx context.Context) error {
	i.mu.Lock()
	client := i.client
	i.mu.Unlock()
	if client == nil {
		return fmt.Errorf("github: poll called before a successful Connect")
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	total := 0
	for {
		issues, resp, err := client.Issues.ListByRepo(ctx, i.owner, i.repo, opts)
		if err != nil {
			return fmt.Errorf("list issues for %s/%s: %w", i.owner, i.repo, err)
		}
		i.checkRate(resp)
		total += len(issues)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if i.target == nil {
		return nil
	}
	return i.target.Write(ctx, int64(total), base.NewOrigin())
}

func (i *Interface) checkRate(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	remaining := resp.Rate.Remaining
	if remaining > 0 && remaining < rateLimitWarningThreshold {
		i.logger.Warn("github rate limit low", "interface", i.Name(), "remaining", remaining, "limit", resp.Rate.Limit)
	}
}

// Subscribe is a no-op: polling needs no subscription step beyond the timer
// already started by Run.
func (i *Interface) Subscribe(ctx context.Context) error { return nil }

// Disconnect stops the polling timer. Idempotent.
func (i *Interface) Disconnect(ctx context.Context) error {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
