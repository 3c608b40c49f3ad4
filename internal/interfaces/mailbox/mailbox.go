// Package mailbox is a supervised interface (spec component C) watching a
// single IMAP mailbox: each time a connection is established it writes the
// mailbox's current unseen-message count into a graph object. IDLE
// notifications on an open connection do not trigger a new count.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/config"
)

// Interface implements supervisor.Interface over an IMAP IDLE session.
type Interface struct {
	cfg    config.MailboxConfig
	target base.Writable
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
	idle   *imapclient.IdleCommand
}

// New constructs a mailbox interface; target receives the unseen message
// count once per (re)connection.
func New(cfg config.MailboxConfig, target base.Writable, logger *slog.Logger) *Interface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interface{cfg: cfg, target: target, logger: logger}
}

// Name implements supervisor.Interface.
func (i *Interface) Name() string {
	if i.cfg.Name != "" {
		return i.cfg.Name
	}
	return "mailbox"
}

// Connect dials the IMAP server, authenticates, and selects the configured
// mailbox.
func (i *Interface) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(i.cfg.Host, strconv.Itoa(i.cfg.Port))

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: i.cfg.Host},
	})
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(i.cfg.Username, i.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", i.cfg.Username, err)
	}

	if _, err := client.Select(i.cfg.Mailbox, nil).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("select %s: %w", i.cfg.Mailbox, err)
	}

	i.mu.Lock()
	i.client = client
	i.mu.Unlock()
	return nil
}

// Run publishes the unseen count for this connection, signals ready, then
// blocks on ctx to keep the connection's owning goroutine alive until
// shutdown. The IDLE command started in Subscribe keeps the session open
// but does not cause the count to be published again.
func (i *Interface) Run(ctx context.Context, ready func()) error {
	if err := i.publishUnseenCount(ctx); err != nil {
		i.logger.Warn("mailbox initial unseen count failed", "interface", i.Name(), "error", err)
	}
	ready()
	<-ctx.Done()
	return nil
}

// Subscribe starts an IMAP IDLE command and holds it open until ctx is
// cancelled.
//
// TODO: re-poll publishUnseenCount on each untagged EXISTS/EXPUNGE response
// instead of only on reconnect; needs an imapclient.Options.UnilateralDataHandler
// wired in Connect to observe those without ending IDLE.
func (i *Interface) Subscribe(ctx context.Context) error {
	i.mu.Lock()
	client := i.client
	i.mu.Unlock()
	if client == nil {
		return fmt.Errorf("mailbox: Subscribe called before a successful Connect")
	}

	idle, err := client.Idle()
	if err != nil {
		return fmt.Errorf("start IDLE: %w", err)
	}
	i.mu.Lock()
	i.idle = idle
	i.mu.Unlock()

	go i.watchIdle(ctx, client, idle)
	return nil
}

func (i *Interface) watchIdle(ctx context.Context, client *imapclient.Client, idle *imapclient.IdleCommand) {
	defer idle.Close()
	<-ctx.Done()
}

// publishUnseenCount searches the selected mailbox for unseen messages and
// writes the count to the target object.
func (i *Interface) publishUnseenCount(ctx context.Context) error {
	i.mu.Lock()
	client := i.client
	i.mu.Unlock()
	if client == nil {
		return fmt.Errorf("mailbox: not connected")
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchCmd := client.UIDSearch(criteria, nil)
	data, err := searchCmd.Wait()
	if err != nil {
		return fmt.Errorf("search unseen: %w", err)
	}

	count := int64(len(data.AllUIDs()))
	if i.target == nil {
		return nil
	}
	return i.target.Write(ctx, count, base.NewOrigin())
}

// Disconnect closes the IDLE command (if any) and the IMAP connection.
// Idempotent.
func (i *Interface) Disconnect(ctx context.Context) error {
	i.mu.Lock()
	client := i.client
	i.client = nil
	i.idle = nil
	i.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
