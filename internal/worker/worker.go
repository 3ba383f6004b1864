// Package worker implements the Worker-side message pump: the
// single-threaded loop that receives Host requests over a protocol.Envelope
// channel, dispatches them to the process table, filesystem, and network
// manager, and emits events back without waiting for a request. Grounded
// on src/mcp/transport.go's message-dispatch shape (one loop, a type
// switch per inbound message, typed replies echoing the request id).
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vprocbox/vprocbox/internal/protocol"
	"github.com/vprocbox/vprocbox/internal/worker/filesystem"
	"github.com/vprocbox/vprocbox/internal/worker/jsruntime"
	"github.com/vprocbox/vprocbox/internal/worker/network"
	"github.com/vprocbox/vprocbox/internal/worker/process"
	"github.com/vprocbox/vprocbox/internal/worker/script"
	"github.com/vprocbox/vprocbox/internal/worker/shell"
)

// MaxProcesses is the default ceiling on concurrently tracked processes.
const MaxProcesses = 10

// removalGrace is how long onProcessExit waits before dropping a terminal
// process from the table, giving streamOutput's idle ticker (which polls
// every 200ms) a chance to drain the last output chunks and unsubscribe
// before the process disappears out from under it.
const removalGrace = 250 * time.Millisecond

// Options configures a Worker at construction. MemoryLimit is recorded but
// otherwise decorative: nothing in this process model enforces it.
type Options struct {
	Debug        bool
	MaxProcesses int
	MemoryLimit  int
}

// Worker owns every Worker-side subsystem and the single goroutine that
// drains requests from the Host.
type Worker struct {
	opts Options

	fs      *filesystem.FS
	table   *process.Table
	network *network.Manager
	bridges *script.BridgeRegistry

	toHost   chan<- protocol.Envelope
	fromHost <-chan protocol.Envelope

	stop chan struct{}
	done chan struct{}
}

// New wires every Worker subsystem together and registers the script and
// shell executor factories (script first, shell as the catch-all).
func New(opts Options, toHost chan<- protocol.Envelope, fromHost <-chan protocol.Envelope) *Worker {
	if opts.MaxProcesses == 0 {
		opts.MaxProcesses = MaxProcesses
	}

	w := &Worker{
		opts:     opts,
		fs:       filesystem.New(),
		bridges:  script.NewBridgeRegistry(),
		toHost:   toHost,
		fromHost: fromHost,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	w.table = process.New(w.onProcessExit, w.onProcessError)
	w.network = network.New(w.bridges, w.onServerListen, w.onServerClose)

	w.table.Register(script.Factory(func() jsruntime.Runtime { return jsruntime.NewFake() }, w.network, w.bridges))
	w.table.Register(shell.Factory(w.fs))

	go w.run()
	return w
}

func (w *Worker) emit(msgType string, payload any) {
	select {
	case w.toHost <- protocol.Envelope{Type: msgType, Payload: payload}:
	case <-w.stop:
	}
}

func (w *Worker) onProcessExit(pid, exitCode int) {
	w.network.UnregisterProcess(pid)
	w.emit(protocol.TypeProcessExit, protocol.ProcessExitEvent{PID: pid, ExitCode: exitCode})
	time.AfterFunc(removalGrace, func() { w.table.Remove(pid) })
}

func (w *Worker) onProcessError(pid int, errMsg string) {
	w.emit(protocol.TypeProcessError, protocol.ProcessErrorEvent{PID: pid, Error: errMsg})
}

func (w *Worker) onServerListen(port int) {
	w.emit(protocol.TypeOnServerListen, protocol.OnServerListenEvent{Port: port})
}

func (w *Worker) onServerClose(port int) {
	w.emit(protocol.TypeOnServerClose, protocol.OnServerCloseEvent{Port: port})
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case env, ok := <-w.fromHost:
			if !ok {
				return
			}
			w.dispatch(env)
		case <-w.stop:
			return
		}
	}
}

// Stop halts the dispatch loop without running dispose semantics; used by
// tests and by the Host after a dispose round-trip completes.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) reply(id, msgType string, payload any) {
	select {
	case w.toHost <- protocol.Envelope{Type: msgType, ID: id, Payload: payload}:
	case <-w.stop:
	}
}

func (w *Worker) replyError(id string, err error) {
	w.reply(id, protocol.TypeError, protocol.ErrorResponse{Error: err.Error()})
}

func (w *Worker) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeInitialize:
		w.reply(env.ID, protocol.TypeInitialized, protocol.InitializedResponse{})

	case protocol.TypeSpawn:
		req, ok := env.Payload.(protocol.SpawnRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid spawn payload"))
			return
		}
		if w.table.Count() >= w.opts.MaxProcesses {
			w.replyError(env.ID, fmt.Errorf("Maximum process limit (%d) reached", w.opts.MaxProcesses))
			return
		}
		p, err := w.table.Spawn(context.Background(), req.Command, req.Args, req.Options.Cwd, req.Options.Env)
		if err != nil {
			w.replyError(env.ID, fmt.Errorf("failed to spawn: %s", err.Error()))
			return
		}
		logrus.WithFields(logrus.Fields{"pid": p.PID, "command": p.Command}).Debug("process spawned")
		w.streamOutput(p)
		w.reply(env.ID, protocol.TypeSpawned, protocol.SpawnedResponse{PID: p.PID, Command: p.Command})

	case protocol.TypeWriteInput:
		req, ok := env.Payload.(protocol.WriteInputRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid writeInput payload"))
			return
		}
		if err := w.table.WriteInput(req.PID, req.Input); err != nil {
			w.onProcessError(req.PID, err.Error())
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeInputWritten, protocol.InputWrittenResponse{})

	case protocol.TypeTerminate:
		req, ok := env.Payload.(protocol.TerminateRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid terminate payload"))
			return
		}
		if err := w.table.Terminate(req.PID); err != nil {
			w.replyError(env.ID, err)
			return
		}
		exitCode := -1
		if p, ok := w.table.Get(req.PID); ok && p.ExitCode != nil {
			exitCode = *p.ExitCode
		}
		w.reply(env.ID, protocol.TypeTerminated, protocol.TerminatedResponse{PID: req.PID, ExitCode: exitCode})

	case protocol.TypeDispose:
		logrus.Debug("worker disposing")
		for _, p := range w.table.List() {
			w.table.Terminate(p.PID)
		}
		w.reply(env.ID, protocol.TypeDisposed, protocol.DisposedResponse{})

	case protocol.TypeGetStats:
		w.reply(env.ID, protocol.TypeStats, w.stats())

	case protocol.TypeWriteFile:
		req, ok := env.Payload.(protocol.WriteFileRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid writeFile payload"))
			return
		}
		if err := w.fs.WriteFile(req.Path, req.Content); err != nil {
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeFileWritten, protocol.FileWrittenResponse{})

	case protocol.TypeReadFile:
		req, ok := env.Payload.(protocol.ReadFileRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid readFile payload"))
			return
		}
		content, err := w.fs.ReadFile(req.Path)
		if err != nil {
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeFileRead, protocol.FileReadResponse{Content: content})

	case protocol.TypeDeleteFile:
		req, ok := env.Payload.(protocol.DeleteFileRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid deleteFile payload"))
			return
		}
		if err := w.fs.DeleteFile(req.Path, req.Recursive); err != nil {
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeFileDeleted, protocol.FileDeletedResponse{})

	case protocol.TypeListFiles:
		req, ok := env.Payload.(protocol.ListFilesRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid listFiles payload"))
			return
		}
		files, err := w.fs.ListFiles(req.Path)
		if err != nil {
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeFileList, protocol.FileListResponse{Files: files})

	case protocol.TypeCreateDirectory:
		req, ok := env.Payload.(protocol.CreateDirectoryRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid createDirectory payload"))
			return
		}
		if err := w.fs.CreateDirectory(req.Path); err != nil {
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeDirectoryCreated, protocol.DirectoryCreatedResponse{})

	case protocol.TypeListDirectory:
		req, ok := env.Payload.(protocol.ListDirectoryRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid listDirectory payload"))
			return
		}
		dir, err := w.fs.ListDirectory(req.Path)
		if err != nil {
			w.replyError(env.ID, err)
			return
		}
		resp := protocol.DirectoryListResponse{Path: dir.Path}
		for _, f := range dir.Files {
			resp.Files = append(resp.Files, f.Path)
		}
		for _, d := range dir.Subdirectories {
			resp.Subdirectories = append(resp.Subdirectories, d.Path)
		}
		w.reply(env.ID, protocol.TypeDirectoryList, resp)

	case protocol.TypeDeleteDirectory:
		req, ok := env.Payload.(protocol.DeleteDirectoryRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid deleteDirectory payload"))
			return
		}
		if err := w.fs.DeleteDirectory(req.Path, req.Recursive); err != nil {
			w.replyError(env.ID, err)
			return
		}
		w.reply(env.ID, protocol.TypeDirectoryDeleted, protocol.DirectoryDeletedResponse{})

	case protocol.TypeHTTPRequest:
		req, ok := env.Payload.(protocol.HTTPRequestRequest)
		if !ok {
			w.replyError(env.ID, fmt.Errorf("invalid httpRequest payload"))
			return
		}
		status, headers, body := w.network.HandleRequest(req.Request.Method, req.Request.URL, req.Request.Headers, req.Request.Body, req.Port)
		w.reply(env.ID, protocol.TypeHTTPResponse, protocol.HTTPResponseResponse{
			Port: req.Port,
			Response: protocol.HTTPResponsePayload{
				Status:     status,
				StatusText: httpStatusText(status),
				Headers:    headers,
				Body:       body,
			},
		})

	case protocol.TypeListServers:
		w.reply(env.ID, protocol.TypeServerList, protocol.ServerListResponse{Ports: w.network.ListPorts()})

	default:
		w.replyError(env.ID, fmt.Errorf("unknown message type"))
	}
}

func httpStatusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return ""
	}
}

// streamOutput subscribes to a process's output channel and forwards every
// chunk as a processOutput event for the lifetime of the process.
func (w *Worker) streamOutput(p *process.Process) {
	ch := make(chan process.OutputChunk, 64)
	p.Subscribe(ch)
	go func() {
		defer p.Unsubscribe(ch)
		idle := time.NewTicker(200 * time.Millisecond)
		defer idle.Stop()
		for {
			select {
			case chunk := <-ch:
				w.emit(protocol.TypeProcessOutput, protocol.ProcessOutputEvent{PID: p.PID, Output: chunk.Data, IsError: chunk.IsError})
			case <-idle.C:
				if p.State() != process.StateRunning {
					return
				}
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *Worker) stats() protocol.StatsResponse {
	var snapshots []protocol.ProcessStatSnapshot
	for _, p := range w.table.List() {
		uptime := time.Since(p.StartTime).Seconds()
		snapshots = append(snapshots, protocol.ProcessStatSnapshot{
			PID:    p.PID,
			Type:   string(p.Kind),
			State:  string(p.State()),
			Uptime: uptime,
		})
	}
	net := w.network.GetNetworkStats()
	return protocol.StatsResponse{
		Processes: snapshots,
		Network: protocol.NetworkStatsSnapshot{
			Servers:           net.Servers,
			RequestsTotal:     net.RequestsTotal,
			RequestsSuccess:   net.RequestsSuccess,
			RequestsFailed:    net.RequestsFailed,
			BytesReceived:     net.BytesReceived,
			BytesSent:         net.BytesSent,
			ActiveConns:       net.ActiveConns,
			AvgResponseTime:   net.AvgResponseTime,
			RequestsPerMinute: net.RequestsPerMinute,
		},
	}
}
