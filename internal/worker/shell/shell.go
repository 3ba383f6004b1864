// Package shell implements the Shell interpreter executor: a built-in
// command interpreter that runs entirely against the virtual filesystem,
// since nothing inside this container may fork a real OS shell. The
// output-buffering and fan-out-to-subscribers shape is grounded on
// src/handler/terminal/session_manager.go's ManagedSession (ring buffer,
// broadcast, idle cleanup), generalized from a PTY-backed real shell to an
// io.Pipe-fed interpreter loop.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/vprocbox/vprocbox/internal/pathutil"
	"github.com/vprocbox/vprocbox/internal/worker/filesystem"
	"github.com/vprocbox/vprocbox/internal/worker/process"
)

// Factory returns a process.ExecutorFactory bound to fs, usable as
// table.Register(shell.Factory(fs)). Every command is eligible; a shell
// executor is the catch-all, so register it last.
func Factory(fs *filesystem.FS) process.ExecutorFactory {
	return process.ExecutorFactory{
		CanExecute: func(command string) bool { return true },
		New:        func(pid int) process.Executor { return newExecutor(fs) },
	}
}

type executor struct {
	fs  *filesystem.FS
	cwd string

	stdinR *io.PipeReader
	stdinW *io.PipeWriter

	mu     sync.Mutex
	killed bool
	done   chan struct{}
}

func newExecutor(fs *filesystem.FS) *executor {
	r, w := io.Pipe()
	return &executor{fs: fs, stdinR: r, stdinW: w, done: make(chan struct{})}
}

func (e *executor) CanExecute(command string) bool { return true }
func (e *executor) Kind() process.Kind             { return process.KindShell }

// Start runs command/args to completion and returns, matching a one-shot
// process exec rather than a persistent session: the interpreter has no
// notion of a command that blocks waiting on stdin. A background goroutine
// keeps draining WriteStdin lines through runLine for the rest of the
// process's life (an interactive "exit" typed after spawn still reaches
// Kill), but Start itself never waits on it.
func (e *executor) Start(ctx context.Context, command string, args []string, cwd string, env map[string]string, stdout, stderr io.Writer) error {
	e.cwd = cwd
	if e.cwd == "" {
		e.cwd = "/"
	}

	argv := append([]string{command}, args...)
	if len(argv) == 1 {
		argv = process.ParseCommand(command)
	}
	e.runArgv(argv, stdout, stderr)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(e.stdinR)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				e.runLine(line, stdout, stderr)
			}
		}
	}()

	return nil
}

func (e *executor) WriteStdin(input string) error {
	_, err := io.WriteString(e.stdinW, input)
	return err
}

func (e *executor) Kill() error {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return nil
	}
	e.killed = true
	e.mu.Unlock()
	close(e.done)
	e.stdinW.Close()
	return nil
}

func (e *executor) runLine(line string, stdout, stderr io.Writer) {
	argv := process.ParseCommand(line)
	e.runArgv(argv, stdout, stderr)
}

func (e *executor) runArgv(argv []string, stdout, stderr io.Writer) {
	if len(argv) == 0 {
		return
	}
	switch argv[0] {
	case "pwd":
		fmt.Fprintln(stdout, e.cwd)
	case "cd":
		if len(argv) < 2 {
			e.cwd = "/"
			return
		}
		target := argv[1]
		if !strings.HasPrefix(target, "/") {
			target = pathutil.Join(e.cwd, target)
		}
		e.cwd = pathutil.Normalize(target)
	case "ls":
		path := e.cwd
		if len(argv) > 1 {
			path = resolvePath(e.cwd, argv[1])
		}
		dir, err := e.fs.ListDirectory(path)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return
		}
		var names []string
		for _, f := range dir.Files {
			names = append(names, pathutil.Base(f.Path))
		}
		for _, d := range dir.Subdirectories {
			names = append(names, pathutil.Base(d.Path)+"/")
		}
		sort.Strings(names)
		fmt.Fprintln(stdout, strings.Join(names, "  "))
	case "cat":
		for _, a := range argv[1:] {
			content, err := e.fs.ReadFile(resolvePath(e.cwd, a))
			if err != nil {
				fmt.Fprintln(stderr, err.Error())
				continue
			}
			stdout.Write(content)
		}
	case "echo":
		fmt.Fprintln(stdout, strings.Join(argv[1:], " "))
	case "mkdir":
		for _, a := range argv[1:] {
			if err := e.fs.CreateDirectory(resolvePath(e.cwd, a)); err != nil {
				fmt.Fprintln(stderr, err.Error())
			}
		}
	case "rm":
		recursive := false
		var targets []string
		for _, a := range argv[1:] {
			if a == "-r" || a == "-rf" || a == "-fr" {
				recursive = true
				continue
			}
			targets = append(targets, a)
		}
		for _, a := range targets {
			path := resolvePath(e.cwd, a)
			if err := e.fs.DeleteFile(path, recursive); err != nil {
				if err2 := e.fs.DeleteDirectory(path, recursive); err2 != nil {
					fmt.Fprintln(stderr, err.Error())
				}
			}
		}
	case "exit":
		e.Kill()
	default:
		fmt.Fprintf(stderr, "%s: command not found\n", argv[0])
	}
}

func resolvePath(cwd, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return pathutil.Join(cwd, path)
}
