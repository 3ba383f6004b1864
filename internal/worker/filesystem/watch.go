package filesystem

import (
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Event is published to every watcher whose prefix matches the changed
// path. Op reuses fsnotify.Op's vocabulary (Create, Write, Remove, Rename,
// Chmod) so the wire shape matches what a real inotify-backed watcher
// would produce, even though this filesystem is synthetic: there is no
// real inode to watch, only the mutating calls in filesystem.go.
type Event struct {
	Op   fsnotify.Op
	Path string
}

// Watch subscribes to every filesystem mutation under (and including)
// path. The returned channel is buffered; slow consumers drop events
// rather than blocking the filesystem. Cancel unsubscribes and closes the
// channel.
func (fs *FS) Watch(path string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	fs.watchMu.Lock()
	fs.watchers[path] = append(fs.watchers[path], ch)
	fs.watchMu.Unlock()

	cancel := func() {
		fs.watchMu.Lock()
		defer fs.watchMu.Unlock()
		subs := fs.watchers[path]
		for i, c := range subs {
			if c == ch {
				fs.watchers[path] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

func (fs *FS) publish(path string, op fsnotify.Op) {
	fs.watchMu.Lock()
	defer fs.watchMu.Unlock()
	for prefix, subs := range fs.watchers {
		if path != prefix && !strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- Event{Op: op, Path: path}:
			default:
			}
		}
	}
}
