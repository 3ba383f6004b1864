// Package filesystem implements the Worker's in-memory, POSIX-ish virtual
// filesystem. It is grounded on
// src/handler/filesystem.go and src/handler/filesystem/directory.go's
// Filesystem/Directory/FileWithContent shapes, generalized from a real
// on-disk root to an in-memory node tree since nothing here may touch the
// host's actual disk, and on src/lib/path.go's FormatPath for the general
// shape of path normalization (the full "." / ".." collapsing rules live in
// internal/pathutil, the leaf-most module in the dependency chain).
package filesystem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vprocbox/vprocbox/internal/pathutil"
)

// FS is the Worker-owned virtual filesystem, rooted at "/".
type FS struct {
	mu   sync.RWMutex
	root *node

	watchMu  sync.Mutex
	watchers map[string][]chan Event
}

// New creates an empty filesystem with just the root directory.
func New() *FS {
	return &FS{
		root:     newDirNode("/"),
		watchers: make(map[string][]chan Event),
	}
}

// walkToParent walks path down to its parent directory, returning the
// parent node and the final segment name. The root has no parent and is
// reported as an error.
func (fs *FS) walkToParent(path string) (*node, string, error) {
	norm := pathutil.Normalize(path)
	if norm == "/" {
		return nil, "", fmt.Errorf("path %q has no parent", path)
	}
	parentPath := pathutil.Dir(norm)
	name := pathutil.Base(norm)
	parent, err := fs.walk(parentPath)
	if err != nil {
		return nil, "", err
	}
	if parent.kind != kindDir {
		return nil, "", fmt.Errorf("not a directory: %s", parentPath)
	}
	return parent, name, nil
}

func (fs *FS) walk(path string) (*node, error) {
	norm := pathutil.Normalize(path)
	if norm == "/" {
		return fs.root, nil
	}
	cur := fs.root
	segments := splitSegments(norm)
	for _, seg := range segments {
		if cur.kind != kindDir {
			return nil, fmt.Errorf("not a directory: %s", cur.name)
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, fmt.Errorf("path not found: %s", path)
		}
		cur = child
	}
	return cur, nil
}

func splitSegments(normalized string) []string {
	if normalized == "/" {
		return nil
	}
	var segs []string
	start := 1
	for i := 1; i <= len(normalized); i++ {
		if i == len(normalized) || normalized[i] == '/' {
			segs = append(segs, normalized[start:i])
			start = i + 1
		}
	}
	return segs
}

// WriteFile creates or overwrites a file, creating parent directories on
// demand, matching the convenience semantics of CreateOrUpdateTree.
func (fs *FS) WriteFile(path string, content []byte) error {
	norm := pathutil.Normalize(path)
	if norm == "/" {
		return fmt.Errorf("cannot write to root")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := pathutil.Dir(norm)
	if err := fs.mkdirAllLocked(dir); err != nil {
		return err
	}
	parent, _ := fs.walk(dir)
	name := pathutil.Base(norm)

	existing, hadExisting := parent.children[name]
	if hadExisting && existing.kind == kindDir {
		return fmt.Errorf("is a directory: %s", norm)
	}
	parent.children[name] = newFileNode(name, append([]byte(nil), content...))
	if hadExisting {
		fs.publish(norm, fsnotify.Write)
	} else {
		fs.publish(norm, fsnotify.Create)
	}
	return nil
}

func (fs *FS) mkdirAllLocked(path string) error {
	norm := pathutil.Normalize(path)
	if norm == "/" {
		return nil
	}
	cur := fs.root
	for _, seg := range splitSegments(norm) {
		child, ok := cur.children[seg]
		if !ok {
			child = newDirNode(seg)
			cur.children[seg] = child
		} else if child.kind != kindDir {
			return fmt.Errorf("not a directory: %s", seg)
		}
		cur = child
	}
	return nil
}

// ReadFile returns a file's content.
func (fs *FS) ReadFile(path string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, err := fs.walk(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if n.kind != kindFile {
		return nil, fmt.Errorf("is a directory: %s", path)
	}
	return append([]byte(nil), n.bytes...), nil
}

// DeleteFile removes a file. If path is a directory, recursive must be true
// or the directory must be empty.
func (fs *FS) DeleteFile(path string, recursive bool) error {
	norm := pathutil.Normalize(path)
	if norm == "/" {
		return fmt.Errorf("cannot delete root")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, err := fs.walkToParent(norm)
	if err != nil {
		return err
	}
	target, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("file not found: %s", norm)
	}
	if target.kind == kindDir && len(target.children) > 0 && !recursive {
		return fmt.Errorf("directory not empty: %s", norm)
	}
	delete(parent.children, name)
	fs.publish(norm, fsnotify.Remove)
	return nil
}

// CreateDirectory creates a directory, creating parents as needed.
func (fs *FS) CreateDirectory(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.mkdirAllLocked(path); err != nil {
		return err
	}
	fs.publish(pathutil.Normalize(path), fsnotify.Create)
	return nil
}

// DeleteDirectory removes a directory. Non-empty directories require
// recursive=true.
func (fs *FS) DeleteDirectory(path string, recursive bool) error {
	norm := pathutil.Normalize(path)
	if norm == "/" {
		return fmt.Errorf("cannot delete root")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, name, err := fs.walkToParent(norm)
	if err != nil {
		return err
	}
	target, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("directory not found: %s", norm)
	}
	if target.kind != kindDir {
		return fmt.Errorf("not a directory: %s", norm)
	}
	if len(target.children) > 0 && !recursive {
		return fmt.Errorf("directory not empty: %s", norm)
	}
	delete(parent.children, name)
	fs.publish(norm, fsnotify.Remove)
	return nil
}

// ListDirectory returns the immediate children of path.
func (fs *FS) ListDirectory(path string) (*Directory, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, err := fs.walk(path)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s", path)
	}
	if n.kind != kindDir {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	norm := pathutil.Normalize(path)
	dir := newDirectory(norm)
	names := sortedKeys(n.children)
	for _, name := range names {
		child := n.children[name]
		childPath := pathutil.Join(norm, name)
		if child.kind == kindDir {
			dir.Subdirectories = append(dir.Subdirectories, newDirectory(childPath))
		} else {
			dir.Files = append(dir.Files, &File{Path: childPath, Size: len(child.bytes), ModTime: child.modTime})
		}
	}
	return dir, nil
}

// ListFiles returns a flat list of every file path under path. An empty
// path lists every file under the root.
func (fs *FS) ListFiles(path string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	root := "/"
	if path != "" {
		root = path
	}
	n, err := fs.walk(root)
	if err != nil {
		return nil, fmt.Errorf("path not found: %s", path)
	}

	var out []string
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		for _, name := range sortedKeys(n.children) {
			child := n.children[name]
			childPath := pathutil.Join(prefix, name)
			if child.kind == kindFile {
				out = append(out, childPath)
			} else {
				walk(child, childPath)
			}
		}
	}
	if n.kind == kindFile {
		return []string{pathutil.Normalize(root)}, nil
	}
	walk(n, pathutil.Normalize(root))
	return out, nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
