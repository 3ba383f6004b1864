// Package pathutil normalizes POSIX-style paths for the virtual filesystem.
// It is the leaf-most module in the dependency order: the filesystem and
// the shell executor normalize their path strings through here.
package pathutil

import "strings"

// Normalize rewrites path into an absolute, "/"-rooted, POSIX-clean form:
// "." segments are dropped, ".." pops the preceding segment (and is
// discarded at the root), and duplicate slashes collapse. The result never
// contains ".." and is idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(path string) string {
	if path == "" {
		return "/"
	}

	segments := strings.Split(path, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// Join normalizes the concatenation of a directory and a child name.
func Join(dir, name string) string {
	dir = Normalize(dir)
	if dir == "/" {
		return Normalize("/" + name)
	}
	return Normalize(dir + "/" + name)
}

// Dir returns the normalized parent of path ("/" for the root).
func Dir(path string) string {
	path = Normalize(path)
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// Base returns the last segment of a normalized path.
func Base(path string) string {
	path = Normalize(path)
	if path == "/" {
		return "/"
	}
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}
