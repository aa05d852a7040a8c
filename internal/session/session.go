package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hectorm/portunus/internal/keys"
	"github.com/hectorm/portunus/internal/sftpd"
)

const (
	// DefaultBystanders is the number of extra keys authorized alongside
	// the dedicated one, so the daemon always picks one key out of
	// several.
	DefaultBystanders = 5
	// DefaultUser is the username sessions authenticate as. Daemons
	// authenticate by key alone, so the name only shows up in logs.
	DefaultUser = "user"

	dialTimeout = 5 * time.Second
)

// Session is an authenticated SFTP session against a single pooled
// daemon. Keys[0] is the identity the session authenticated with; the
// rest are bystanders present in the daemon's access file.
type Session struct {
	Client *sftp.Client
	Port   int
	Root   string
	Keys   []*keys.KeyPair

	conn *ssh.Client
}

type config struct {
	bystanders int
	keyBits    int
	user       string
}

type Option func(*config) error

func WithBystanders(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("invalid bystander count %d", n)
		}
		c.bystanders = n
		return nil
	}
}

func WithKeyBits(bits int) Option {
	return func(c *config) error {
		c.keyBits = bits
		return nil
	}
}

func WithUser(user string) Option {
	return func(c *config) error {
		if user == "" {
			return errors.New("username must not be empty")
		}
		c.user = user
		return nil
	}
}

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		bystanders: DefaultBystanders,
		keyBits:    keys.DefaultBits,
		user:       DefaultUser,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Establish acquires one pooled daemon, authorizes a freshly generated
// identity on it together with a batch of bystander keys, starts the
// daemon, and connects an SFTP client authenticated with the dedicated
// identity. The access file is fully written before the daemon starts.
// The pool keeps ownership of the daemon's teardown; callers only
// Close the session.
func Establish(pool *sftpd.Pool, opts ...Option) (*Session, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	daemon, err := pool.Acquire()
	if err != nil {
		return nil, err
	}

	dedicated, err := keys.Generate(cfg.keyBits)
	if err != nil {
		return nil, err
	}
	bystanders, err := keys.GenerateBatch(cfg.bystanders, cfg.keyBits)
	if err != nil {
		return nil, err
	}
	pairs := append([]*keys.KeyPair{dedicated}, bystanders...)

	pubs := make([]ssh.PublicKey, 0, len(pairs))
	for _, pair := range pairs {
		pubs = append(pubs, pair.PublicKey())
	}
	if err := keys.WriteAuthorizedKeys(daemon.Root(), pubs...); err != nil {
		return nil, err
	}

	if err := daemon.Start(); err != nil {
		return nil, err
	}

	conn, err := ssh.Dial("tcp", daemon.Addr(), &ssh.ClientConfig{
		User:            cfg.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(dedicated.Signer())},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
		Timeout:         dialTimeout,
	})
	if err != nil {
		daemon.Stop()
		return nil, fmt.Errorf("failed to connect to daemon on port %d: %w", daemon.Port(), err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		daemon.Stop()
		return nil, fmt.Errorf("failed to open sftp session on port %d: %w", daemon.Port(), err)
	}

	slog.Info("established sftp session",
		"port", daemon.Port(), "user", cfg.user, "keys", len(pairs))

	return &Session{
		Client: client,
		Port:   daemon.Port(),
		Root:   daemon.Root(),
		Keys:   pairs,
		conn:   conn,
	}, nil
}

// Close closes the SFTP client and the SSH transport. Both closes are
// always attempted; failures are joined.
func (s *Session) Close() error {
	var errs []error
	if err := s.Client.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// EstablishFleet authorizes master on every daemon of the pool and then
// starts them all; every access file is in place before the first
// daemon starts. No connection is opened, callers dial the daemons they
// care about.
func EstablishFleet(pool *sftpd.Pool, master *keys.KeyPair) error {
	daemons := pool.Daemons()

	for _, daemon := range daemons {
		if err := keys.WriteAuthorizedKeys(daemon.Root(), master.PublicKey()); err != nil {
			return err
		}
	}
	for _, daemon := range daemons {
		if err := daemon.Start(); err != nil {
			return err
		}
	}

	slog.Info("established daemon fleet", "ports", pool.Ports())

	return nil
}
