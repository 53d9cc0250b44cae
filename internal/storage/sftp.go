package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/logger"
)

// SFTP stores backups on a remote server over SSH. The connection is
// established lazily on the first operation and reused afterwards.
type SFTP struct {
	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client

	addr      string // host:port
	dir       string // remote base directory
	sshConfig *ssh.ClientConfig
	log       logger.Logger
}

// NewSFTP builds an SFTP backend from the process configuration.
func NewSFTP(cfg *config.Config, log logger.Logger) (*SFTP, error) {
	if cfg.SFTPHost == "" {
		return nil, apperrors.NewConfigError("SFTP storage needs a host",
			"Set SFTP_HOST to the server that should hold backups.")
	}
	if cfg.SFTPUser == "" {
		return nil, apperrors.NewConfigError("SFTP storage needs a user",
			"Set SFTP_USER to the account used for uploads.")
	}

	auth, err := sshAuthMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeys, err := sshHostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.SFTPPort
	if port == 0 {
		port = 22
	}

	return &SFTP{
		addr: net.JoinHostPort(cfg.SFTPHost, strconv.Itoa(port)),
		dir:  strings.TrimRight(cfg.SFTPDir, "/"),
		sshConfig: &ssh.ClientConfig{
			User:            cfg.SFTPUser,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         30 * time.Second,
		},
		log: log,
	}, nil
}

// sshAuthMethods builds the auth chain: configured key file, then default
// user keys, then password.
func sshAuthMethods(cfg *config.Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.SFTPKeyFile != "" {
		keyData, err := os.ReadFile(cfg.SFTPKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key %s: %w", cfg.SFTPKeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key %s: %w", cfg.SFTPKeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if home, err := os.UserHomeDir(); err == nil && home != "/" {
		for _, keyName := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
			keyData, err := os.ReadFile(filepath.Join(home, ".ssh", keyName))
			if err != nil {
				continue
			}
			signer, err := ssh.ParsePrivateKey(keyData)
			if err != nil {
				continue
			}
			methods = append(methods, ssh.PublicKeys(signer))
			break
		}
	}

	if cfg.SFTPPassword != "" {
		methods = append(methods, ssh.Password(cfg.SFTPPassword))
	}

	if len(methods) == 0 {
		return nil, apperrors.NewConfigError("no SSH authentication method available",
			"Set SFTP_KEY_FILE or SFTP_PASSWORD, or place a key under ~/.ssh.")
	}
	return methods, nil
}

func sshHostKeyCallback(cfg *config.Config) (ssh.HostKeyCallback, error) {
	if cfg.SFTPInsecure {
		return ssh.InsecureIgnoreHostKey(), nil // #nosec G106 - operator-requested
	}

	knownHostsPath := cfg.SFTPKnownHosts
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "/" {
			home = "/root"
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("known_hosts file not found at %s", knownHostsPath),
			"Set SFTP_KNOWN_HOSTS to a known_hosts file listing the server, or SFTP_INSECURE=true to skip verification.")
	}
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse known_hosts %s: %w", knownHostsPath, err)
	}
	return callback, nil
}

func (s *SFTP) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftpClient != nil {
		return nil
	}
	sshClient, err := ssh.Dial("tcp", s.addr, s.sshConfig)
	if err != nil {
		return fmt.Errorf("SSH connection to %s failed: %w", s.addr, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("SFTP session failed: %w", err)
	}
	s.sshClient = sshClient
	s.sftpClient = sftpClient
	return nil
}

// Close shuts down the SSH connection. Safe to call without a connection.
func (s *SFTP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftpClient != nil {
		s.sftpClient.Close()
		s.sftpClient = nil
	}
	if s.sshClient != nil {
		s.sshClient.Close()
		s.sshClient = nil
	}
	return nil
}

func (s *SFTP) Name() string { return "sftp" }

func (s *SFTP) remotePath(name string) string {
	if s.dir == "" {
		return name
	}
	return path.Join(s.dir, name)
}

func (s *SFTP) Save(ctx context.Context, name string, r io.Reader) error {
	upload := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.connect(); err != nil {
			return err
		}
		if seeker, ok := r.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind upload source: %w", err)
			}
		}
		if s.dir != "" {
			if err := s.sftpClient.MkdirAll(s.dir); err != nil {
				return fmt.Errorf("failed to create remote directory %s: %w", s.dir, err)
			}
		}
		remote, err := s.sftpClient.Create(s.remotePath(name))
		if err != nil {
			return fmt.Errorf("failed to create remote file: %w", err)
		}
		if _, err := io.Copy(remote, r); err != nil {
			remote.Close()
			return fmt.Errorf("failed to upload: %w", err)
		}
		return remote.Close()
	}

	var err error
	if _, seekable := r.(io.Seeker); seekable {
		err = retryOperation(ctx, s.log, "sftp upload "+name, defaultRetryConfig(), upload)
	} else {
		err = upload()
	}
	if err != nil {
		return apperrors.StorageFailed("save", name, err)
	}
	return nil
}

func (s *SFTP) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.connect(); err != nil {
		return nil, apperrors.StorageFailed("read", name, err)
	}
	remote, err := s.sftpClient.Open(s.remotePath(name))
	if err != nil {
		return nil, apperrors.StorageFailed("read", name, err)
	}
	return remote, nil
}

func (s *SFTP) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.connect(); err != nil {
		return false, apperrors.StorageFailed("stat", name, err)
	}
	if _, err := s.sftpClient.Stat(s.remotePath(name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperrors.StorageFailed("stat", name, err)
	}
	return true, nil
}

func (s *SFTP) Size(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.connect(); err != nil {
		return 0, apperrors.StorageFailed("stat", name, err)
	}
	info, err := s.sftpClient.Stat(s.remotePath(name))
	if err != nil {
		return 0, apperrors.StorageFailed("stat", name, err)
	}
	return info.Size(), nil
}

func (s *SFTP) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.connect(); err != nil {
		return apperrors.StorageFailed("delete", name, err)
	}
	if err := s.sftpClient.Remove(s.remotePath(name)); err != nil {
		return apperrors.StorageFailed("delete", name, err)
	}
	return nil
}

func (s *SFTP) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.connect(); err != nil {
		return nil, apperrors.StorageFailed("list", s.dir, err)
	}
	listDir := s.dir
	if listDir == "" {
		listDir = "."
	}
	entries, err := s.sftpClient.ReadDir(listDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.StorageFailed("list", listDir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if prefix != "" && !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
