package sftpd

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hectorm/portunus/internal/ports"
)

// Pool spawns one daemon per port of a freshly allocated window, each
// rooted at <baseDir>/<port>. Daemons are spawned, not started; tests
// acquire and start exactly the ones they need. The pool keeps
// ownership of every daemon it spawned, so Shutdown tears all of them
// down regardless of who started them.
type Pool struct {
	baseDir    string
	windowSize int
	daemonOpts []Option

	mu      sync.Mutex
	daemons map[int]*Daemon
	free    []int
}

type PoolOption func(*Pool) error

func NewPool(alloc *ports.Allocator, baseDir string, opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		baseDir:    baseDir,
		windowSize: ports.DefaultWindowSize,
		daemons:    make(map[int]*Daemon),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	allocated, err := alloc.Allocate(p.windowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate daemon ports: %w", err)
	}

	for _, port := range allocated {
		root := filepath.Join(baseDir, strconv.Itoa(port))
		if err := os.MkdirAll(root, 0700); err != nil {
			return nil, fmt.Errorf("failed to create daemon root %s: %w", root, err)
		}
		daemon, err := NewDaemon(port, root, p.daemonOpts...)
		if err != nil {
			return nil, err
		}
		p.daemons[port] = daemon
		p.free = append(p.free, port)
	}

	slog.Info("spawned sftp daemon pool", "ports", allocated, "base_dir", baseDir)

	return p, nil
}

func WithWindowSize(n int) PoolOption {
	return func(p *Pool) error {
		if n < 1 {
			return fmt.Errorf("invalid pool window size %d", n)
		}
		p.windowSize = n
		return nil
	}
}

func WithDaemonOptions(opts ...Option) PoolOption {
	return func(p *Pool) error {
		p.daemonOpts = opts
		return nil
	}
}

// Acquire hands out the lowest-port daemon not handed out before. The
// pool still owns the daemon's teardown.
func (p *Pool) Acquire() (*Daemon, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, errors.New("no free daemons left in pool")
	}

	port := p.free[0]
	p.free = p.free[1:]

	return p.daemons[port], nil
}

func (p *Pool) Ports() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Sorted(maps.Keys(p.daemons))
}

// Daemons returns every daemon of the pool in ascending port order,
// whether or not it has been acquired or started.
func (p *Pool) Daemons() []*Daemon {
	p.mu.Lock()
	defer p.mu.Unlock()

	daemons := make([]*Daemon, 0, len(p.daemons))
	for _, port := range slices.Sorted(maps.Keys(p.daemons)) {
		daemons = append(daemons, p.daemons[port])
	}

	return daemons
}

// Shutdown signals every daemon to stop first, then waits for each
// started one to finish within timeout. Daemons that never started are
// discarded without waiting. Every stuck daemon is reported, not just
// the first.
func (p *Pool) Shutdown(timeout time.Duration) error {
	daemons := p.Daemons()

	for _, daemon := range daemons {
		daemon.Stop()
	}

	var errs []error
	for _, daemon := range daemons {
		if err := daemon.Join(timeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
