// Package watch turns a directory into an operator command inbox.
// Files dropped into the directory are read line by line, each
// non-empty line delivered as one inbound command, and the file is
// removed. Base-station tooling and tests use it as a scriptable
// stand-in for the serial operator link.
package watch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Inbox watches a directory for command files.
type Inbox struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration

	OnCommand func(cmd string)
	OnError   func(err error)
}

// NewInbox creates the inbox directory and starts watching it.
func NewInbox(dir string) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch inbox: %w", err)
	}

	return &Inbox{
		watcher:  fsWatcher,
		dir:      dir,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Drain consumes every command file already present, oldest first.
// Called once at startup before Run.
func (in *Inbox) Drain() error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		in.consume(filepath.Join(in.dir, e.Name()))
	}
	return nil
}

// Run blocks delivering commands until the context is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	pending := make(map[string]*time.Timer)
	var mu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			in.watcher.Close()
			return ctx.Err()

		case event, ok := <-in.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name

			// Debounce so a file still being written is read once,
			// complete.
			mu.Lock()
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(in.debounce, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				in.consume(path)
			})
			mu.Unlock()

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return nil
			}
			if in.OnError != nil {
				in.OnError(err)
			}
		}
	}
}

// consume reads one command file, delivers its lines and removes it.
func (in *Inbox) consume(path string) {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) && in.OnError != nil {
			in.OnError(err)
		}
		return
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if in.OnCommand != nil {
			in.OnCommand(line)
		}
	}
	err = sc.Err()
	f.Close()

	if err != nil && in.OnError != nil {
		in.OnError(err)
		return
	}
	if err := os.Remove(path); err != nil && in.OnError != nil {
		in.OnError(err)
	}
}
