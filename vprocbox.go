// Package vprocbox is the embedder-facing facade over internal/container:
// a Go program creates one Container, spawns processes into it, and reads
// their virtual filesystem/network side effects back out, all in-process.
// It re-exports internal/container's public surface under the names an
// embedder actually wants to import, keeping the Host/Worker split and the
// message-channel plumbing entirely internal.
package vprocbox

import (
	"context"

	"github.com/vprocbox/vprocbox/internal/container"
)

// Options configures a Container. See container.Options.
type Options = container.Options

// Container is the embedder-facing supervisor: spawn processes, touch the
// virtual filesystem, inject HTTP requests, read aggregate stats.
type Container = container.Manager

// Process is a handle to one spawned process inside a Container.
type Process = container.VirtualProcess

// OutputEvent, ExitEvent and ErrorEvent are delivered on a Process's
// Output/Exit/Errors channels.
type OutputEvent = container.OutputEvent
type ExitEvent = container.ExitEvent
type ErrorEvent = container.ErrorEvent

// Stats is the aggregate process/network snapshot returned by
// Container.GetStats.
type Stats = container.Stats

// New creates a Container: a Worker goroutine and the Host bridge wired to
// it, ready to accept Spawn calls once New returns.
func New(ctx context.Context, opts Options) (*Container, error) {
	return container.New(ctx, opts)
}
