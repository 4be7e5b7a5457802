package anomaly

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ids-guard/internal/utils"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const whitelistDebounce = 200 * time.Millisecond

// Whitelist holds source IPs that are never scored or blocked. Entries come
// from configuration and, optionally, a file that is reloaded on change.
type Whitelist struct {
	mu       sync.RWMutex
	static   map[string]struct{}
	fromFile map[string]struct{}
	path     string
	logger   *logrus.Logger
}

func NewStaticWhitelist(ips []string) *Whitelist {
	w := &Whitelist{
		static:   make(map[string]struct{}, len(ips)),
		fromFile: make(map[string]struct{}),
	}
	for _, ip := range ips {
		w.static[ip] = struct{}{}
	}
	return w
}

// NewWhitelist loads the optional file on top of the static entries.
func NewWhitelist(ips []string, path string, logger *logrus.Logger) (*Whitelist, error) {
	w := NewStaticWhitelist(ips)
	w.path = path
	w.logger = logger
	if path != "" {
		if err := w.Reload(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Whitelist) Contains(ip string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.static[ip]; ok {
		return true
	}
	_, ok := w.fromFile[ip]
	return ok
}

// List returns all entries, sorted.
func (w *Whitelist) List() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.static)+len(w.fromFile))
	for ip := range w.static {
		out = append(out, ip)
	}
	for ip := range w.fromFile {
		if _, dup := w.static[ip]; !dup {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// Reload re-reads the whitelist file. A missing file clears the file entries.
func (w *Whitelist) Reload() error {
	if w.path == "" {
		return nil
	}
	lines, err := utils.ReadLines(w.path)
	if err != nil {
		return err
	}
	entries := make(map[string]struct{}, len(lines))
	for _, ip := range lines {
		entries[ip] = struct{}{}
	}

	w.mu.Lock()
	w.fromFile = entries
	w.mu.Unlock()

	if w.logger != nil {
		w.logger.Infof("[Whitelist] loaded %d entries from %s", len(entries), w.path)
	}
	return nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (w *Whitelist) Watch(ctx context.Context) error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	name := filepath.Base(w.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(whitelistDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := w.Reload(); err != nil && w.logger != nil {
				w.logger.Warnf("[Whitelist] reload failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Warnf("[Whitelist] watcher error: %v", err)
			}
		}
	}
}
