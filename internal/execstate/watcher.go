package execstate

import (
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/planstore/internal/logging"
	"github.com/Iron-Ham/planstore/internal/plan"
)

// defaultDebounce collapses the burst of events an atomic write produces.
const defaultDebounce = 50 * time.Millisecond

// Watcher reports changes to a plan's execution state made by any process.
// It watches the plan directory rather than the file itself, because
// atomic writes replace the file.
type Watcher struct {
	planDir  string
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	debounce time.Duration
	onChange func(*Summary)

	mu      sync.Mutex
	last    *Summary
	started atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the Watcher's logger.
func WithWatcherLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logging.OrNop(l) }
}

// WithDebounce sets how long the Watcher waits for events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher returns a Watcher that calls onChange with a fresh Summary
// whenever execution-state.json changes in planDir. Summaries equal to the
// previous one are not reported.
func NewWatcher(planDir string, onChange func(*Summary), opts ...WatcherOption) (*Watcher, error) {
	if _, err := plan.Open(planDir); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(planDir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		planDir:  planDir,
		watcher:  fw,
		logger:   logging.NopLogger(),
		debounce: defaultDebounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if s, err := GetExecutionState(planDir); err == nil {
		w.last = s
	}
	return w, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	if w.started.CompareAndSwap(false, true) {
		go w.watchLoop()
	}
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

// Last returns the most recent summary seen.
func (w *Watcher) Last() *Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != plan.ExecutionStateFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			w.refresh()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("execution state watch error", "plan_dir", w.planDir, "error", err)
		}
	}
}

func (w *Watcher) refresh() {
	s, err := GetExecutionState(w.planDir)
	if err != nil {
		// A reader can race the rename; the next event retries.
		w.logger.Debug("execution state reload failed", "plan_dir", w.planDir, "error", err)
		return
	}

	w.mu.Lock()
	changed := !reflect.DeepEqual(w.last, s)
	if changed {
		w.last = s
	}
	w.mu.Unlock()

	if changed && w.onChange != nil {
		w.onChange(s)
	}
}
