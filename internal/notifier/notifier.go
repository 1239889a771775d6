// Package notifier turns file-system changes under a directory tree into
// restart triggers for the supervision loop.
package notifier

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/thejerf/suture/v4"

	"github.com/loykin/watchdog/internal/metrics"
)

// DefaultBuffer is the trigger channel capacity used by NewChannel.
const DefaultBuffer = 64

// Trigger means "a restart should be considered". Path and Op are informational.
type Trigger struct {
	Path string
	Op   string
	At   time.Time
}

// NewChannel creates the shared trigger channel.
func NewChannel() chan Trigger { return make(chan Trigger, DefaultBuffer) }

// WatchSetupError reports that the notification subscription could not be
// established. The supervisor keeps running without change detection.
type WatchSetupError struct {
	Dir string
	Err error
}

func (e *WatchSetupError) Error() string {
	return fmt.Sprintf("failed to watch directory %s: %v", e.Dir, e.Err)
}

func (e *WatchSetupError) Unwrap() error { return e.Err }

// Notifier watches a directory tree recursively. Every create, write, remove
// or rename produces one Trigger; nothing is debounced.
type Notifier struct {
	root     string
	watcher  *fsnotify.Watcher
	out      chan<- Trigger
	logger   *slog.Logger
	dirs     atomic.Int64
	sent     atomic.Int64
	dropped  atomic.Int64
	closedCh chan struct{}
}

// New subscribes to changes under dir and returns a Notifier that pushes
// triggers onto out once Serve runs.
func New(dir string, out chan<- Trigger, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &WatchSetupError{Dir: dir, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &WatchSetupError{Dir: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &WatchSetupError{Dir: abs, Err: fmt.Errorf("not a directory")}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &WatchSetupError{Dir: abs, Err: err}
	}
	n := &Notifier{root: abs, watcher: w, out: out, logger: logger, closedCh: make(chan struct{})}
	if err := n.addTree(abs); err != nil {
		_ = w.Close()
		return nil, &WatchSetupError{Dir: abs, Err: err}
	}
	return n, nil
}

// addTree adds root and every directory below it. Errors on the root are
// fatal; errors below it (permissions, races with deletion) are logged.
func (n *Notifier) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			n.logger.Debug("Skipping unreadable path", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := n.watcher.Add(p); err != nil {
			if p == root {
				return err
			}
			n.logger.Warn("Failed to watch subdirectory", "path", p, "error", err)
			return nil
		}
		n.dirs.Add(1)
		return nil
	})
}

// Root returns the absolute watched directory.
func (n *Notifier) Root() string { return n.root }

// WatchedDirs returns how many directories are subscribed.
func (n *Notifier) WatchedDirs() int { return int(n.dirs.Load()) }

// Dropped returns how many triggers were discarded because the channel was full.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Serve pumps fsnotify events into triggers until ctx is done.
// It implements suture.Service; after Close it asks not to be restarted.
func (n *Notifier) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.closedCh:
			return suture.ErrDoNotRestart
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return suture.ErrDoNotRestart
			}
			n.handle(ev)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return suture.ErrDoNotRestart
			}
			n.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (n *Notifier) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := n.addTree(ev.Name); err != nil {
				n.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	}
	n.logger.Info("File change detected", "path", ev.Name, "op", ev.Op.String())
	metrics.IncChangeTrigger()
	n.send(Trigger{Path: ev.Name, Op: ev.Op.String(), At: time.Now()})
}

// send never blocks: a full channel already holds a pending restart.
func (n *Notifier) send(t Trigger) {
	select {
	case n.out <- t:
		n.sent.Add(1)
	default:
		n.dropped.Add(1)
		n.logger.Debug("Trigger channel full, dropping event", "path", t.Path)
	}
}

// Close stops the subscription.
func (n *Notifier) Close() error {
	select {
	case <-n.closedCh:
		return nil
	default:
		close(n.closedCh)
	}
	return n.watcher.Close()
}

func (n *Notifier) String() string { return "change-notifier" }
