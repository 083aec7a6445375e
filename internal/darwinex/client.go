// Package darwinex discovers darwin date ranges on the Darwinex FTP server and
// downloads their quotes into one combined, time-indexed table.
package darwinex

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/frame"
	"github.com/trade-engine/darwinex-ftp/internal/remote"
	"github.com/trade-engine/darwinex-ftp/internal/services"
	arrowsink "github.com/trade-engine/darwinex-ftp/internal/sink/arrow"
)

// SnapshotStore persists the combined table between runs.
type SnapshotStore interface {
	Save(dir string, t *frame.Table, meta arrowsink.Meta) (string, error)
	Load(dir string) (*frame.Table, arrowsink.Meta, error)
}

// Client holds one logged-in session. It is not safe for concurrent use:
// the FTP control connection serves one command at a time.
type Client struct {
	session   remote.Session
	scanner   *services.LayoutScanner
	snapshots SnapshotStore
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New connects and logs in. Connection and login failures are returned as
// connection errors without retry.
func New(ctx context.Context, opts remote.Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := remote.Dial(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	return NewWithSession(session, logger), nil
}

// NewWithSession wraps an established session.
func NewWithSession(session remote.Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		session:   session,
		scanner:   services.NewLayoutScanner(session, logger),
		snapshots: arrowsink.NewSnapshotStore(logger),
		logger:    logger,
	}
}

// WithSnapshotStore replaces the Arrow snapshot store.
func (c *Client) WithSnapshotStore(store SnapshotStore) *Client {
	c.snapshots = store
	return c
}

// ListEntries lists a remote directory. The empty dir is the root.
func (c *Client) ListEntries(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = remote.Root
	}
	return c.session.NameList(remote.Join(dir))
}

// Close ends the session. Further calls return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.session.Quit()
}

// verbosity gates log volume only.
type verbosity int

func (v verbosity) progress() bool { return v >= 1 }
func (v verbosity) notices() bool  { return v >= 2 }
func (v verbosity) listings() bool { return v >= 3 }

func (c *Client) logListing(v verbosity, dir string, entries []string) {
	if v.listings() {
		c.logger.Debug("Remote listing", zap.String("dir", dir), zap.Strings("entries", entries))
	}
}
