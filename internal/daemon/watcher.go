package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/discoursegraphs/dgsync/internal/vault"
)

// EventOp is what happened to a markdown file.
type EventOp int

const (
	// OpCreate: a markdown file appeared.
	OpCreate EventOp = iota
	// OpModify: contents written.
	OpModify
	// OpDelete: removed, or moved out of the vault.
	OpDelete
	// OpRename indicates a file was moved; OldPath holds the previous path.
	OpRename
)

// String returns the lowercase op name.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a markdown file in the vault. Paths are
// vault-relative and slash-separated.
type FileEvent struct {
	Path    string
	OldPath string
	Op      EventOp
}

// DefaultRenameWindow is how long a Rename waits for the matching Create
// before it is reported as a delete.
const DefaultRenameWindow = 100 * time.Millisecond

// FileWatcher watches a vault folder tree for markdown changes. Folders
// created while running are watched as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string

	// RenameWindow pairs a Rename with the Create that follows it.
	RenameWindow time.Duration
}

// NewFileWatcher returns a stopped watcher.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:      watcher,
		events:       make(chan FileEvent, 100),
		errors:       make(chan error, 10),
		done:         make(chan struct{}),
		RenameWindow: DefaultRenameWindow,
	}, nil
}

// Start begins watching root and every folder below it, except the
// folders the vault never syncs.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return errors.New("watcher already running")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fw.root = abs

	if err := fw.addTree(abs, nil); err != nil {
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// addTree watches dir and its subfolders. When found is non-nil it is
// called for every markdown file already present, which covers folders
// moved into the vault in one step.
func (fw *FileWatcher) addTree(dir string, found func(rel string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("failed to walk %s: %w", dir, err)
			}
			return nil
		}
		rel, ok := fw.rel(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if rel != "" && vault.Hidden(rel) {
				return filepath.SkipDir
			}
			if err := fw.watcher.Add(p); err != nil {
				return fmt.Errorf("failed to watch directory %s: %w", p, err)
			}
			return nil
		}
		if found != nil && vault.IsMarkdown(rel) && !vault.Hidden(rel) {
			found(rel)
		}
		return nil
	})
}

// Stop closes the fsnotify watcher and both channels.
// It waits for the event goroutine. A rename still waiting for its pair is dropped.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the underlying watcher unblocks the event loop.
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events carries vault-relative markdown events.
// It is closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors carries fsnotify failures. It is closed by Stop.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning reports whether Start has been called without Stop.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// processEvents converts fsnotify events into FileEvents. A Rename is held
// back until the next event: a Create arriving within RenameWindow turns
// the pair into one OpRename, anything else flushes it as OpDelete.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	var (
		renamed     string
		renameTimer *time.Timer
		renameC     <-chan time.Time
	)
	clearRename := func() {
		renamed = ""
		if renameTimer != nil {
			renameTimer.Stop()
		}
		renameC = nil
	}
	defer clearRename()

	for {
		select {
		case <-fw.done:
			return

		case <-renameC:
			old := renamed
			clearRename()
			if !fw.emit(FileEvent{Path: old, Op: OpDelete}) {
				return
			}

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			for _, fe := range fw.convertEvent(event) {
				if renamed != "" {
					old := renamed
					clearRename()
					if fe.Op == OpCreate {
						fe = FileEvent{Path: fe.Path, OldPath: old, Op: OpRename}
					} else if !fw.emit(FileEvent{Path: old, Op: OpDelete}) {
						return
					}
				}
				if fe.Op == OpRename && fe.OldPath == "" {
					renamed = fe.Path
					renameTimer = time.NewTimer(fw.RenameWindow)
					renameC = renameTimer.C
					continue
				}
				if !fw.emit(fe) {
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

func (fw *FileWatcher) emit(fe FileEvent) bool {
	select {
	case fw.events <- fe:
		return true
	case <-fw.done:
		return false
	}
}

// convertEvent maps one fsnotify event to zero or more FileEvents. A bare
// OpRename (no OldPath) marks the source side of a move.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) []FileEvent {
	rel, ok := fw.rel(event.Name)
	if !ok || rel == "" || vault.Hidden(rel) {
		return nil
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			var out []FileEvent
			if err := fw.addTree(event.Name, func(p string) {
				out = append(out, FileEvent{Path: p, Op: OpCreate})
			}); err != nil {
				select {
				case fw.errors <- err:
				default:
				}
			}
			return out
		}
	}

	if !vault.IsMarkdown(rel) {
		return nil
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// chmod only
		return nil
	}
	return []FileEvent{{Path: rel, Op: op}}
}

func (fw *FileWatcher) rel(abs string) (string, bool) {
	rel, err := filepath.Rel(fw.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return vault.Clean(filepath.ToSlash(rel)), true
}
