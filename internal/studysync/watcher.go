package studysync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	uploadedSuffix        = ".uploaded"
	defaultSettleDelay    = 500 * time.Millisecond
	defaultMaxUploadBytes = 32 << 20
	watcherScanInterval   = 30 * time.Second
)

// Watcher observes a local folder and uploads every new document through
// the gateway. Files that finish uploading are renamed with a .uploaded
// suffix so they are not picked up again.
type Watcher struct {
	dir         string
	gateway     *Gateway
	logger      Logger
	settleDelay time.Duration
	maxBytes    int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[string]time.Time
}

type WatcherOptions struct {
	// SettleDelay is how long a file must stay quiet after the last write
	// event before it is uploaded. Defaults to 500ms.
	SettleDelay time.Duration
	// MaxUploadBytes caps the size of a file the watcher will upload.
	MaxUploadBytes int64
	Logger         Logger
}

func NewWatcher(dir string, gateway *Gateway, opts WatcherOptions) (*Watcher, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = defaultSettleDelay
	}
	maxBytes := opts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &Watcher{
		dir:         dir,
		gateway:     gateway,
		logger:      opts.Logger,
		settleDelay: settle,
		maxBytes:    maxBytes,
		pending:     make(map[string]time.Time),
	}, nil
}

// Start begins watching. It uploads files already present in the folder
// before reacting to filesystem events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return err
	}
	if err := notifier.Add(w.dir); err != nil {
		_ = notifier.Close()
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(loopCtx, notifier, done)
	return nil
}

func (w *Watcher) Close() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.started = false
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (w *Watcher) run(ctx context.Context, notifier *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer notifier.Close()

	w.scan(ctx)

	ticker := time.NewTicker(w.settleDelay)
	defer ticker.Stop()
	rescan := time.NewTicker(watcherScanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-notifier.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.mark(event.Name)
			}
		case err, ok := <-notifier.Errors:
			if !ok {
				return
			}
			w.logf("watch error: %v", err)
		case now := <-ticker.C:
			w.flushSettled(ctx, now)
		case <-rescan.C:
			w.scan(ctx)
		}
	}
}

// scan uploads anything already sitting in the folder.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logf("scan %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if !w.eligible(path) {
			continue
		}
		w.upload(ctx, path)
	}
}

func (w *Watcher) mark(path string) {
	if !w.eligible(path) {
		return
	}
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushSettled(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.settleDelay {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.upload(ctx, path)
	}
}

func (w *Watcher) eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.HasSuffix(name, uploadedSuffix) {
		return false
	}
	if strings.HasSuffix(name, ".tmp") {
		return false
	}
	return true
}

func (w *Watcher) upload(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logf("stat %s: %v", path, err)
		}
		return
	}
	if info.IsDir() {
		return
	}
	if info.Size() > w.maxBytes {
		w.logf("skipping %s: %d bytes exceeds limit", path, info.Size())
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		w.logf("read %s: %v", path, err)
		return
	}
	record, err := w.gateway.Upload(ctx, filepath.Base(path), content)
	if err != nil {
		w.logf("upload %s: %v", path, err)
		return
	}
	if err := os.Rename(path, path+uploadedSuffix); err != nil {
		w.logf("rename %s: %v", path, err)
	}
	w.logf("uploaded %s as material %d", filepath.Base(path), record.ID)
}

func (w *Watcher) logf(format string, args ...interface{}) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
