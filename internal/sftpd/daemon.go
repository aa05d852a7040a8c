package sftpd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hectorm/portunus/internal/keys"
)

// Daemon is an SFTP server bound to one loopback port and rooted at its
// own working directory. A daemon is created in a spawned state; nothing
// listens until Start is called.
type Daemon struct {
	port   int
	root   string
	signer ssh.Signer

	sshServerConfig *ssh.ServerConfig
	listener        net.Listener
	connMap         sync.Map
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	authKeysMu sync.RWMutex
	authKeys   map[string]struct{}
}

type Option func(*Daemon) error

func NewDaemon(port int, root string, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		port:     port,
		root:     root,
		ctx:      ctx,
		cancel:   cancel,
		authKeys: make(map[string]struct{}),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			cancel()
			return nil, err
		}
	}

	if d.signer == nil {
		_, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			cancel()
			return nil, err
		}
		signer, err := ssh.NewSignerFromKey(privateKey)
		if err != nil {
			cancel()
			return nil, err
		}
		d.signer = signer
	}

	d.sshServerConfig = &ssh.ServerConfig{
		PublicKeyCallback: d.authenticate,
		MaxAuthTries:      6,
	}
	d.sshServerConfig.AddHostKey(d.signer)

	return d, nil
}

func WithHostKey(signer ssh.Signer) Option {
	return func(d *Daemon) error {
		d.signer = signer
		return nil
	}
}

func (d *Daemon) Port() int {
	return d.port
}

func (d *Daemon) Root() string {
	return d.root
}

func (d *Daemon) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(d.port))
}

func (d *Daemon) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Start loads the access file, binds the daemon port and launches the
// accept loop and the access-file watcher. The listener is open by the
// time Start returns, so a client may connect immediately. Starting an
// already started daemon is a no-op.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	if d.stopped {
		return fmt.Errorf("daemon for port %d is already stopped", d.port)
	}

	slog.Info("starting sftp daemon", "port", d.port, "root", d.root)

	if err := os.MkdirAll(filepath.Dir(keys.AuthorizedKeysPath(d.root)), 0700); err != nil {
		return fmt.Errorf("failed to create daemon directories: %w", err)
	}

	pubs, err := keys.ReadAuthorizedKeys(d.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load authorized keys: %w", err)
	}
	d.swapAuthorizedKeys(pubs)

	listener, err := net.Listen("tcp", d.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.Addr(), err)
	}
	d.listener = listener

	d.wg.Go(d.watchAuthorizedKeys)
	d.wg.Go(d.serve)

	d.started = true
	return nil
}

// Stop signals cooperative termination: it cancels the daemon context,
// closes the listener and any open connections, and returns without
// waiting. Stopping twice, or stopping a daemon that never started, is
// a no-op.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true

	d.cancel()

	if !d.started {
		return
	}

	slog.Info("stopping sftp daemon", "port", d.port)

	if d.listener != nil {
		_ = d.listener.Close()
	}

	d.connMap.Range(func(key, value any) bool {
		if conn, ok := key.(net.Conn); ok {
			_ = conn.Close()
			d.connMap.Delete(conn)
		}
		return true
	})
}

// Join waits for the daemon's background work to finish, up to timeout.
// A daemon that never started joins immediately. A daemon still running
// when the deadline expires is reported by port.
func (d *Daemon) Join(timeout time.Duration) error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{}, 1)
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("daemon for port %d still running after %s", d.port, timeout)
	}
}

func (d *Daemon) authenticate(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	d.authKeysMu.RLock()
	_, ok := d.authKeys[string(key.Marshal())]
	d.authKeysMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown public key for %q", conn.User())
	}
	return nil, nil
}

func (d *Daemon) swapAuthorizedKeys(pubs []ssh.PublicKey) {
	set := make(map[string]struct{}, len(pubs))
	for _, pub := range pubs {
		set[string(pub.Marshal())] = struct{}{}
	}

	d.authKeysMu.Lock()
	d.authKeys = set
	d.authKeysMu.Unlock()
}

func (d *Daemon) serve() {
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
				slog.Error("failed to accept incoming connection", "port", d.port, "error", err)
				continue
			}
		}

		d.wg.Go(func() {
			if err := d.handleConnection(conn); err != nil {
				slog.Error("connection error", "port", d.port, "remote_addr", conn.RemoteAddr(), "error", err)
			}
		})
	}
}

// watchAuthorizedKeys reloads the daemon's key set when the access file
// changes, so keys authorized after start are honored without a
// restart. Reload failures keep the previous set.
func (d *Daemon) watchAuthorizedKeys() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create file watcher", "port", d.port, "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	path := filepath.Clean(keys.AuthorizedKeysPath(d.root))
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		slog.Error("failed to watch directory", "port", d.port, "dir", filepath.Dir(path), "error", err)
		return
	}

	waitFor := 100 * time.Millisecond
	reload := time.AfterFunc(math.MaxInt64, d.reloadAuthorizedKeys)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			reload.Reset(waitFor)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "port", d.port, "error", err)
		}
	}
}

func (d *Daemon) reloadAuthorizedKeys() {
	pubs, err := keys.ReadAuthorizedKeys(d.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("error reloading authorized keys file", "port", d.port, "error", err)
		return
	}

	d.swapAuthorizedKeys(pubs)
	slog.Debug("reloaded authorized keys file", "port", d.port, "keys", len(pubs))
}

func (d *Daemon) handleConnection(tcpConn net.Conn) error {
	conn := &countingConn{Conn: tcpConn}

	d.connMap.Store(tcpConn, struct{}{})
	defer func() {
		if _, loaded := d.connMap.LoadAndDelete(tcpConn); loaded {
			_ = tcpConn.Close()
		}
		slog.Debug("connection closed",
			"port", d.port,
			"remote_addr", tcpConn.RemoteAddr(),
			"bytes_read", conn.bytesRead.Load(),
			"bytes_written", conn.bytesWritten.Load())
	}()

	sshConn, channels, requests, err := ssh.NewServerConn(conn, d.sshServerConfig)
	if err != nil {
		if _, ok := err.(*ssh.ServerAuthError); !ok {
			return err
		}
		return nil
	}
	defer func() { _ = sshConn.Close() }()

	go ssh.DiscardRequests(requests)

	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			slog.Warn("unsupported channel type", "port", d.port, "type", newChannel.ChannelType())
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		channel, reqs, err := newChannel.Accept()
		if err != nil {
			return err
		}
		d.wg.Go(func() {
			if err := d.handleSession(channel, reqs); err != nil {
				slog.Error("session error", "port", d.port, "error", err)
			}
		})
	}

	return nil
}

func (d *Daemon) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) error {
	defer func() { _ = channel.Close() }()

	for req := range requests {
		switch req.Type {
		case "subsystem":
			var payload struct {
				Subsystem string
			}
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Subsystem != "sftp" {
				slog.Warn("unsupported subsystem request", "port", d.port, "error", err)
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			return d.serveSFTP(channel)
		default:
			slog.Warn("unsupported request type", "port", d.port, "type", req.Type)
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}

	return nil
}

func (d *Daemon) serveSFTP(channel ssh.Channel) error {
	server, err := sftp.NewServer(channel, sftp.WithServerWorkingDirectory(d.root))
	if err != nil {
		return fmt.Errorf("failed to create sftp server: %w", err)
	}
	defer func() { _ = server.Close() }()

	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("sftp server terminated: %w", err)
	}

	return nil
}
