package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// FTP defaults
const (
	DefaultFTPPort  = 21
	DefaultMaxConns = 5
	ftpTempPrefix   = ".upload-"
)

// FTPConfig holds configuration for the FTP backend
type FTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	BasePath      string
	Bucket        string
	PublicBaseURL string
	Timeout       time.Duration
	MaxConns      int
	Retry         RetryConfig
}

// FTPStore keeps objects below <base>/<bucket> on an FTP server.
type FTPStore struct {
	config   FTPConfig
	log      logger.Logger
	connPool chan *ftp.ServerConn
}

// NewFTPStore validates the configuration. Connections are opened lazily.
func NewFTPStore(cfg *FTPConfig) (*FTPStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ftp: host is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ftp: bucket is required")
	}

	config := *cfg
	if config.Port == 0 {
		config.Port = DefaultFTPPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxConns == 0 {
		config.MaxConns = DefaultMaxConns
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = DefaultRetryConfig()
	}
	if config.BasePath != "/" {
		config.BasePath = strings.TrimRight(config.BasePath, "/")
	}

	return &FTPStore{
		config:   config,
		log:      GetLogger().Module("ftp"),
		connPool: make(chan *ftp.ServerConn, config.MaxConns),
	}, nil
}

// Name returns the name of this backend
func (s *FTPStore) Name() string {
	return "ftp"
}

func (s *FTPStore) addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// getConnection gets a connection from the pool or creates a new one
func (s *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-s.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return s.connect(ctx)
}

// returnConnection returns a connection to the pool or closes it if the pool is full
func (s *FTPStore) returnConnection(conn *ftp.ServerConn) {
	select {
	case s.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			s.log.Debug("failed to close FTP connection", logger.Error(err))
		}
	}
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.addr(),
		ftp.DialWithTimeout(s.config.Timeout),
		ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	if s.config.Username != "" {
		if err := conn.Login(s.config.Username, s.config.Password); err != nil {
			_ = conn.Quit()
			return nil, errors.New(fmt.Errorf("login failed: %w", err)).
				Component("storage").
				Category(errors.CategoryAuth).
				Context("backend", "ftp").
				Build()
		}
	}
	return conn, nil
}

// withConn runs op on a pooled connection. Failed connections are dropped.
func (s *FTPStore) withConn(ctx context.Context, operation string, op func(conn *ftp.ServerConn, attempt int) error) error {
	return WithRetry(ctx, s.config.Retry, "ftp_"+operation, func(attempt int) error {
		conn, err := s.getConnection(ctx)
		if err != nil {
			return err
		}
		if err := op(conn, attempt); err != nil {
			_ = conn.Quit()
			return err
		}
		s.returnConnection(conn)
		return nil
	})
}

func (s *FTPStore) objectPath(key string) string {
	return path.Join(s.config.BasePath, s.config.Bucket, key)
}

// makeDirs creates every missing directory of dir.
func (s *FTPStore) makeDirs(conn *ftp.ServerConn, dir string) error {
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !isDirExists(err) {
			return fmt.Errorf("failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

// Put stores to a temporary name and renames it into place.
func (s *FTPStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	target := s.objectPath(key)

	err := s.withConn(ctx, "put", func(conn *ftp.ServerConn, attempt int) error {
		if err := rewind(r, attempt); err != nil {
			return err
		}
		if err := s.makeDirs(conn, path.Dir(target)); err != nil {
			return err
		}

		tempPath := path.Join(path.Dir(target), ftpTempPrefix+uuid.NewString())
		if err := conn.Stor(tempPath, r); err != nil {
			_ = conn.Delete(tempPath)
			return fmt.Errorf("failed to store file: %w", err)
		}
		if err := conn.Rename(tempPath, target); err != nil {
			_ = conn.Delete(tempPath)
			return fmt.Errorf("failed to rename temporary file: %w", err)
		}
		return nil
	})
	return opError(err, "ftp", "put", key)
}

// Delete removes the object; a missing object is not an error.
func (s *FTPStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := s.withConn(ctx, "delete", func(conn *ftp.ServerConn, _ int) error {
		if err := conn.Delete(s.objectPath(key)); err != nil && !isFTPNotFound(err) {
			return err
		}
		return nil
	})
	return opError(err, "ftp", "delete", key)
}

// Exists asks the server for the object size.
func (s *FTPStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	var exists bool
	err := s.withConn(ctx, "stat", func(conn *ftp.ServerConn, _ int) error {
		_, err := conn.FileSize(s.objectPath(key))
		switch {
		case err == nil:
			exists = true
		case isFTPNotFound(err):
			exists = false
		default:
			return err
		}
		return nil
	})
	return exists, opError(err, "ftp", "stat", key)
}

// PublicURL uses the configured base URL, or an ftp:// URL otherwise.
func (s *FTPStore) PublicURL(key string) string {
	if s.config.PublicBaseURL != "" {
		return joinURL(s.config.PublicBaseURL, s.config.Bucket, key)
	}
	return joinURL("ftp://"+s.addr(), s.config.BasePath, s.config.Bucket, key)
}

// Close quits every pooled connection.
func (s *FTPStore) Close() error {
	var errs []error
	for {
		select {
		case conn := <-s.connPool:
			if err := conn.Quit(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

func ftpStatusCode(err error) int {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}
	return 0
}

// isFTPNotFound matches "550 file unavailable" replies.
func isFTPNotFound(err error) bool {
	return ftpStatusCode(err) == ftp.StatusFileUnavailable
}

func isDirExists(err error) bool {
	if ftpStatusCode(err) == ftp.StatusFileUnavailable {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "file exists") ||
		strings.Contains(errStr, "already exists")
}
