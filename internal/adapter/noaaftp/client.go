// Package noaaftp downloads HPD archives from the NOAA FTP server.
package noaaftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/couchcryptid/precip-etl/internal/config"
	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/jlaffaye/ftp"
)

const (
	connectAttempts = 3
	initialBackoff  = time.Second
	maxBackoff      = 5 * time.Second
)

// Conn is the subset of an FTP session the downloader needs.
type Conn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	NameList(path string) ([]string, error)
	FileSize(path string) (int64, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// DialFunc opens an FTP session.
type DialFunc func(ctx context.Context, addr string, timeout time.Duration) (Conn, error)

// Index remembers downloaded files and their sizes.
type Index interface {
	Size(stateCode, name string) (int64, bool, error)
	Mark(stateCode, name string, size int64) error
	Forget(stateCode, name string) error
}

// Client implements pipeline.Downloader against an anonymous FTP server.
type Client struct {
	addr    string
	rootDir string
	timeout time.Duration
	backoff time.Duration
	index   Index
	dial    DialFunc
	logger  *slog.Logger
}

// NewClient creates a downloader for the configured NOAA FTP host.
func NewClient(cfg *config.Config, index Index, logger *slog.Logger) *Client {
	addr := cfg.FTPHost
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return &Client{
		addr:    addr,
		rootDir: cfg.FTPRootDir,
		timeout: cfg.FTPTimeout,
		backoff: initialBackoff,
		index:   index,
		dial:    dialFTP,
		logger:  logger,
	}
}

// Download fetches every file in <root>/<state code>/ into dir. Files that are
// already on disk are skipped unless the index shows the remote copy changed
// size. It returns the number of files fetched.
func (c *Client) Download(ctx context.Context, state domain.State, dir string) (int, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			c.logger.Debug("ftp quit failed", "error", err)
		}
	}()

	remoteDir := path.Join(c.rootDir, state.Code())
	if err := conn.ChangeDir(remoteDir); err != nil {
		return 0, fmt.Errorf("change to %s: %w", remoteDir, err)
	}

	names, err := conn.NameList(".")
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", remoteDir, err)
	}

	downloaded := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return downloaded, err
		}
		name = path.Base(name)
		if name == "." || name == ".." || name == "" {
			continue
		}

		fetch, err := c.needsFetch(conn, state, dir, name)
		if err != nil {
			return downloaded, err
		}
		if !fetch {
			c.logger.Debug("file already downloaded, skipping", "state", state.Name, "file", name)
			continue
		}

		c.logger.Debug("downloading data file", "state", state.Name, "file", name)
		size, err := fetchFile(conn, name, filepath.Join(dir, name))
		if err != nil {
			return downloaded, fmt.Errorf("retrieve %s: %w", name, err)
		}
		if err := c.index.Mark(state.Code(), name, size); err != nil {
			return downloaded, fmt.Errorf("index %s: %w", name, err)
		}
		downloaded++
	}

	return downloaded, nil
}

func (c *Client) needsFetch(conn Conn, state domain.State, dir, name string) (bool, error) {
	info, err := os.Stat(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	known, ok, err := c.index.Size(state.Code(), name)
	if err != nil {
		return false, fmt.Errorf("index lookup %s: %w", name, err)
	}
	if !ok {
		// Present on disk from an earlier run without an index.
		return false, c.index.Mark(state.Code(), name, info.Size())
	}

	remote, err := conn.FileSize(name)
	if err != nil {
		// SIZE is optional in FTP; trust the index.
		return false, nil //nolint:nilerr // unsupported SIZE is not a failure
	}
	if remote == known {
		return false, nil
	}
	// Drop the stale copy and its entry first so an interrupted refetch is
	// retried next run instead of the old file being adopted.
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		return false, fmt.Errorf("remove stale %s: %w", name, err)
	}
	if err := c.index.Forget(state.Code(), name); err != nil {
		return false, fmt.Errorf("index forget %s: %w", name, err)
	}
	return true, nil
}

// fetchFile streams name into dst through a temporary file.
func fetchFile(conn Conn, name, dst string) (int64, error) {
	resp, err := conn.Retr(name)
	if err != nil {
		return 0, err
	}
	defer resp.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+name+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	n, err := io.Copy(tmp, resp)
	if err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), dst)
}

// connect dials and logs in, retrying with exponential backoff.
func (c *Client) connect(ctx context.Context) (Conn, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err := c.dial(ctx, c.addr, c.timeout)
		if err == nil {
			if err = conn.Login("anonymous", "anonymous"); err == nil {
				return conn, nil
			}
			conn.Quit() //nolint:errcheck // login already failed
		}
		lastErr = err
		c.logger.Warn("ftp connect failed", "addr", c.addr, "attempt", attempt, "error", err)

		if attempt == connectAttempts || !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("connect to %s: %w", c.addr, lastErr)
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serverConn adapts *ftp.ServerConn to Conn.
type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{conn}, nil
}
