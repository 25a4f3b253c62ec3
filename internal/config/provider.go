package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Provider owns the current configuration snapshot and swaps it atomically
// on reload. Readers never observe a partially updated configuration and
// never hold a snapshot across the reload boundary unless they choose to.
type Provider struct {
	path string
	log  *zap.Logger
	cur  atomic.Pointer[Config]
}

// NewProvider loads the initial snapshot. A broken config file is logged and
// the env+defaults layer is used instead; startup never fails on config.
func NewProvider(path string, log *zap.Logger) *Provider {
	p := &Provider{path: path, log: log}
	cfg, err := Load(path)
	if err != nil {
		log.Warn("config load failed, using defaults/env", zap.Error(err))
	}
	p.cur.Store(&cfg)
	return p
}

// Snapshot returns the current configuration. The returned value is shared
// and must be treated as read-only.
func (p *Provider) Snapshot() *Config {
	return p.cur.Load()
}

// Reload re-reads the backing source and swaps the snapshot. On error the
// previous snapshot stays current (last known good).
func (p *Provider) Reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	p.cur.Store(&cfg)
	return nil
}

// MaxFailureAttempts reads the live lockout threshold. The tracker polls
// this on every check so threshold edits apply to the next request without
// a restart.
func (p *Provider) MaxFailureAttempts() int {
	return p.Snapshot().Lockout.MaxFailureAttempts
}

// FailureResetOnSuccess reads the live reset-on-success flag.
func (p *Provider) FailureResetOnSuccess() bool {
	return p.Snapshot().Lockout.FailureResetOnSuccess
}

// Run reloads the configuration periodically and on file-change events
// until ctx is cancelled. Reload errors keep the last known good snapshot.
func (p *Provider) Run(ctx context.Context) {
	events := p.watch(ctx)

	ticker := time.NewTicker(p.Snapshot().ReloadInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-events:
		}
		if err := p.Reload(); err != nil {
			p.log.Warn("config reload failed, keeping previous", zap.Error(err))
			continue
		}
		ticker.Reset(p.Snapshot().ReloadInterval())
		p.log.Info("config reloaded",
			zap.Int("maxFailureAttempts", p.MaxFailureAttempts()),
			zap.Bool("failureResetOnSuccess", p.FailureResetOnSuccess()),
		)
	}
}

// watch emits a signal when the config file is rewritten. Editors replace
// files on save, so the parent directory is watched and events are filtered
// by name. Returns a nil channel (never ready) when watching is off.
func (p *Provider) watch(ctx context.Context) <-chan struct{} {
	if p.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Warn("config watch unavailable, polling only", zap.Error(err))
		return nil
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		p.log.Warn("config watch unavailable, polling only", zap.Error(err))
		_ = w.Close()
		return nil
	}

	out := make(chan struct{}, 1)
	name := filepath.Clean(p.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.log.Warn("config watch error", zap.Error(err))
			}
		}
	}()
	return out
}
