package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// DefaultSSHPort is used when no port is configured.
const DefaultSSHPort = 22

// SFTPConfig holds configuration for the SFTP backend
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	BasePath       string
	Bucket         string
	PublicBaseURL  string
	Timeout        time.Duration
	Retry          RetryConfig
}

// sftpDialer opens a client and returns a function closing it and the transport.
type sftpDialer func(ctx context.Context) (*sftp.Client, func(), error)

// SFTPStore keeps objects below <base>/<bucket> on an SFTP server. Each
// operation uses its own connection.
type SFTPStore struct {
	config SFTPConfig
	log    logger.Logger
	dial   sftpDialer
}

// NewSFTPStore validates the configuration. No connection is made.
func NewSFTPStore(cfg *SFTPConfig) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sftp: host is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("sftp: bucket is required")
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}

	config := *cfg
	if config.Port == 0 {
		config.Port = DefaultSSHPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = DefaultRetryConfig()
	}
	if config.BasePath != "/" {
		config.BasePath = strings.TrimRight(config.BasePath, "/")
	}

	s := &SFTPStore{config: config, log: GetLogger().Module("sftp")}
	s.dial = s.connect
	return s, nil
}

// Name returns the name of this backend
func (s *SFTPStore) Name() string {
	return "sftp"
}

func (s *SFTPStore) hostKeyCallback() (ssh.HostKeyCallback, error) {
	file := s.config.KnownHostsFile
	if file == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".ssh", "known_hosts")
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
			}
		}
	}
	if file == "" {
		s.log.Warn("no known_hosts file available, host key is not verified",
			logger.String("host", s.config.Host))
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit operator choice when no known_hosts exists
	}
	return knownhosts.New(file)
}

// connect establishes an SFTP connection
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, func(), error) {
	type connResult struct {
		client *sftp.Client
		closer func()
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		hostKeyCallback, err := s.hostKeyCallback()
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("failed to load known hosts: %w", err)}
			return
		}

		config := &ssh.ClientConfig{
			User:            s.config.Username,
			HostKeyCallback: hostKeyCallback,
			Timeout:         s.config.Timeout,
		}

		switch {
		case s.config.KeyFile != "":
			key, err := os.ReadFile(s.config.KeyFile)
			if err != nil {
				resultChan <- connResult{err: fmt.Errorf("failed to read private key: %w", err)}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{err: fmt.Errorf("failed to parse private key: %w", err)}
				return
			}
			config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		default:
			config.Auth = []ssh.AuthMethod{ssh.Password(s.config.Password)}
		}

		addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{err: fmt.Errorf("failed to create client: %w", err)}
			return
		}

		resultChan <- connResult{client: client, closer: func() {
			_ = client.Close()
			_ = sshConn.Close()
		}}
	}()

	select {
	case <-ctx.Done():
		// A connection that completes later is closed by the drain below.
		go func() {
			if r := <-resultChan; r.closer != nil {
				r.closer()
			}
		}()
		return nil, nil, ctx.Err()
	case result := <-resultChan:
		return result.client, result.closer, result.err
	}
}

func (s *SFTPStore) objectPath(key string) string {
	return path.Join(s.config.BasePath, s.config.Bucket, key)
}

// withClient runs op on a fresh connection, retrying transient failures.
func (s *SFTPStore) withClient(ctx context.Context, operation string, op func(client *sftp.Client, attempt int) error) error {
	return WithRetry(ctx, s.config.Retry, "sftp_"+operation, func(attempt int) error {
		client, closeFn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		return op(client, attempt)
	})
}

// Put uploads to a temporary name and renames it into place.
func (s *SFTPStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	target := s.objectPath(key)

	err := s.withClient(ctx, "put", func(client *sftp.Client, attempt int) error {
		if err := rewind(r, attempt); err != nil {
			return err
		}
		if err := client.MkdirAll(path.Dir(target)); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		tempPath := path.Join(path.Dir(target), ".upload-"+uuid.NewString())
		dst, err := client.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		if _, err := io.Copy(dst, r); err != nil {
			_ = dst.Close()
			_ = client.Remove(tempPath)
			return fmt.Errorf("failed to write file: %w", err)
		}
		if err := dst.Close(); err != nil {
			_ = client.Remove(tempPath)
			return fmt.Errorf("failed to close file: %w", err)
		}

		if err := client.PosixRename(tempPath, target); err != nil {
			if err := client.Rename(tempPath, target); err != nil {
				_ = client.Remove(tempPath)
				return fmt.Errorf("failed to rename temporary file: %w", err)
			}
		}
		return nil
	})
	return opError(err, "sftp", "put", key)
}

// Delete removes the object; a missing object is not an error.
func (s *SFTPStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := s.withClient(ctx, "delete", func(client *sftp.Client, _ int) error {
		if err := client.Remove(s.objectPath(key)); err != nil && !isSFTPNotExist(err) {
			return err
		}
		return nil
	})
	return opError(err, "sftp", "delete", key)
}

// Exists stats the object.
func (s *SFTPStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	var exists bool
	err := s.withClient(ctx, "stat", func(client *sftp.Client, _ int) error {
		_, err := client.Stat(s.objectPath(key))
		switch {
		case err == nil:
			exists = true
		case isSFTPNotExist(err):
			exists = false
		default:
			return err
		}
		return nil
	})
	return exists, opError(err, "sftp", "stat", key)
}

// PublicURL uses the configured base URL, or an sftp:// URL otherwise.
func (s *SFTPStore) PublicURL(key string) string {
	if s.config.PublicBaseURL != "" {
		return joinURL(s.config.PublicBaseURL, s.config.Bucket, key)
	}
	base := "sftp://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	return joinURL(base, s.config.BasePath, s.config.Bucket, key)
}

// Close is a no-op; connections are per operation.
func (s *SFTPStore) Close() error {
	return nil
}

func isSFTPNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var statusErr *sftp.StatusError
	return errors.As(err, &statusErr) && statusErr.FxCode() == sftp.ErrSSHFxNoSuchFile
}
