package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vprocbox/vprocbox/internal/worker/filesystem"
)

func TestEchoWritesToStdout(t *testing.T) {
	fs := filesystem.New()
	e := newExecutor(fs)
	var stdout, stderr bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx, "echo", []string{"hello", "world"}, "/", nil, &stdout, &stderr) }()

	time.Sleep(20 * time.Millisecond)
	if err := e.Kill(); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done

	if got := strings.TrimSpace(stdout.String()); got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestOneShotCommandTerminatesWithoutKill(t *testing.T) {
	fs := filesystem.New()
	e := newExecutor(fs)
	var stdout, stderr bytes.Buffer

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx, "echo", []string{"hi"}, "/", nil, &stdout, &stderr) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Start did not return for a one-shot command")
	}

	if got := strings.TrimSpace(stdout.String()); got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestCatReadsWrittenFile(t *testing.T) {
	fs := filesystem.New()
	if err := fs.WriteFile("/greeting.txt", []byte("hi there")); err != nil {
		t.Fatal(err)
	}
	e := newExecutor(fs)
	var stdout, stderr bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	go e.Start(ctx, "cat", []string{"/greeting.txt"}, "/", nil, &stdout, &stderr)
	time.Sleep(20 * time.Millisecond)
	e.Kill()
	cancel()

	if stdout.String() != "hi there" {
		t.Fatalf("got %q, stderr=%q", stdout.String(), stderr.String())
	}
}

func TestWriteStdinFeedsInteractiveCommands(t *testing.T) {
	fs := filesystem.New()
	e := newExecutor(fs)
	var stdout, stderr bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { e.Start(ctx, "sh", nil, "/", nil, &stdout, &stderr); close(done) }()

	time.Sleep(10 * time.Millisecond)
	if err := e.WriteStdin("echo from-stdin\n"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	e.Kill()
	<-done

	if !strings.Contains(stdout.String(), "from-stdin") {
		t.Fatalf("stdout missing interactive output: %q", stdout.String())
	}
}
