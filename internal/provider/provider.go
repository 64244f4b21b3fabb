// Package provider defines the agent backends the stage executor can spawn
// and the router that orders them into a fallback chain.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	// ErrUnknownProvider is returned when a name is not registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoCandidates is returned when routing leaves no provider to try.
	ErrNoCandidates = errors.New("no candidate providers")
)

// ChunkKind distinguishes the pieces of a process's output stream.
type ChunkKind string

const (
	// ChunkText is incremental assistant text.
	ChunkText ChunkKind = "text"
	// ChunkTool describes a tool the agent is using.
	ChunkTool ChunkKind = "tool"
	// ChunkResult carries the complete final answer, superseding accumulated text.
	ChunkResult ChunkKind = "result"
	// ChunkError carries an error reported by the agent.
	ChunkError ChunkKind = "error"
)

// Chunk is one item of streamed output.
type Chunk struct {
	Kind ChunkKind `json:"kind"`
	Text string    `json:"text"`
}

// SpawnOptions carries per-instance settings.
type SpawnOptions struct {
	// WorkDir is the directory the agent runs in.
	WorkDir string
	// Model overrides the provider's default model.
	Model string
	// Role is the part the instance plays.
	Role models.Role
}

// Process is a running agent invocation.
type Process interface {
	// Output returns a channel of chunks, closed when the output ends.
	Output() <-chan Chunk
	// Wait blocks until exit. It must be called after Output is drained.
	Wait() (exitCode int, err error)
	// Kill terminates the process. Safe to call more than once.
	Kill() error
	// PID returns the OS process id, or 0 when there is none.
	PID() int
	// Stderr returns diagnostic output captured so far.
	Stderr() string
}

// Provider is an external agent backend.
type Provider interface {
	// Name is the routing key.
	Name() string
	// Spawn starts an agent with prompt. The process stops when ctx is done.
	Spawn(ctx context.Context, prompt string, opts SpawnOptions) (Process, error)
	// SupportsStreaming reports whether Output yields text before completion.
	SupportsStreaming() bool
	// AdaptPrompt rewrites a generic prompt into the provider's preferred form.
	AdaptPrompt(prompt string) string
}

// Failure reasons recorded on a ProviderError.
const (
	ReasonSpawn   = "spawn"
	ReasonExit    = "exit"
	ReasonTimeout = "timeout"
	ReasonEmpty   = "empty_output"
)

// Error describes a failed provider execution.
type Error struct {
	Provider string
	Reason   string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
	if e.Reason == ReasonExit {
		msg += fmt.Sprintf(" (code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
