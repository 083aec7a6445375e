package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
)

// Root is the logical top of the remote tree, the directory the session
// logs into.
const Root = "/"

// Session is the subset of an FTP session the client needs. Every path is
// absolute, so no call depends on where a previous call left the server.
type Session interface {
	// NameList returns the base names of the entries in dir.
	NameList(dir string) ([]string, error)
	// IsDir reports whether dir can be entered.
	IsDir(dir string) (bool, error)
	// Retrieve streams the content of file into w.
	Retrieve(ctx context.Context, file string, w io.Writer) error
	Quit() error
}

// Options holds connection parameters.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// Timeout bounds dialing and each control exchange. Zero keeps the library default.
	Timeout time.Duration
	// TransferRate limits RETR commands per second. Zero means unlimited.
	TransferRate  float64
	TransferBurst int
}

func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// FTPSession is a Session over one jlaffaye/ftp control connection.
type FTPSession struct {
	conn     *ftp.ServerConn
	throttle *Throttle
	logger   *zap.Logger
	addr     string
	// home is the login directory; logical paths are resolved below it.
	home string
}

// Dial connects and logs in. There is no retry.
func Dial(ctx context.Context, opts Options, logger *zap.Logger) (*FTPSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialOpts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if opts.Timeout > 0 {
		dialOpts = append(dialOpts, ftp.DialWithTimeout(opts.Timeout))
	}

	addr := opts.Addr()
	logger.Info("Connecting to FTP server", zap.String("addr", addr), zap.String("user", opts.Username))

	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		return nil, apperr.New(apperr.KindConnection, "dial", addr, err)
	}

	if err := conn.Login(opts.Username, opts.Password); err != nil {
		_ = conn.Quit()
		return nil, apperr.New(apperr.KindConnection, "login", addr, err)
	}

	home, err := conn.CurrentDir()
	if err != nil || home == "" {
		home = Root
	}

	throttle := NewThrottle(opts.TransferRate, opts.TransferBurst)
	logger.Info("FTP session established",
		zap.String("addr", addr),
		zap.String("home", home),
		zap.Float64("transfer_rate", float64(throttle.Limit())))

	return &FTPSession{
		conn:     conn,
		throttle: throttle,
		logger:   logger,
		addr:     addr,
		home:     home,
	}, nil
}

// resolve maps a logical absolute path onto the server below the login directory.
func (s *FTPSession) resolve(p string) string {
	return path.Join(s.home, p)
}

func (s *FTPSession) NameList(dir string) ([]string, error) {
	entries, err := s.conn.NameList(s.resolve(dir))
	if err != nil {
		return nil, apperr.New(apperr.KindTransfer, "nlst", dir, err)
	}
	return BaseNames(entries), nil
}

// IsDir probes dir with CWD and always changes back to the login directory
// afterwards, so a failed probe never leaves the session somewhere unknown.
func (s *FTPSession) IsDir(dir string) (bool, error) {
	cwdErr := s.conn.ChangeDir(s.resolve(dir))
	if err := s.conn.ChangeDir(s.home); err != nil {
		return false, apperr.New(apperr.KindTransfer, "cwd", s.home, err)
	}
	if cwdErr != nil {
		s.logger.Debug("Directory probe failed", zap.String("dir", dir), zap.Error(cwdErr))
		return false, nil
	}
	return true, nil
}

func (s *FTPSession) Retrieve(ctx context.Context, file string, w io.Writer) error {
	if err := s.throttle.Wait(ctx); err != nil {
		return apperr.New(apperr.KindTransfer, "throttle", file, err)
	}

	resp, err := s.conn.Retr(s.resolve(file))
	if err != nil {
		return apperr.New(apperr.KindTransfer, "retr", file, err)
	}

	n, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		return apperr.New(apperr.KindTransfer, "retr", file, copyErr)
	}
	if closeErr != nil {
		return apperr.New(apperr.KindTransfer, "retr", file, closeErr)
	}

	s.logger.Debug("Retrieved file", zap.String("file", file), zap.Int64("bytes", n))
	return nil
}

func (s *FTPSession) Quit() error {
	if err := s.conn.Quit(); err != nil {
		return fmt.Errorf("quit %s: %w", s.addr, err)
	}
	return nil
}

// BaseNames strips any directory prefix some servers include in NLST
// replies, and drops the "." and ".." entries.
func BaseNames(entries []string) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimRight(e, "/")
		if e == "" {
			continue
		}
		name := path.Base(e)
		if name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Join builds an absolute remote path.
func Join(elem ...string) string {
	return path.Join(append([]string{Root}, elem...)...)
}
