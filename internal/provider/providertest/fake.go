// Package providertest provides a scripted provider for tests.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/swarm/internal/provider"
)

// Response scripts one spawn.
type Response struct {
	// Output is streamed as text chunks, one per element.
	Output []string
	// ExitCode is returned by Wait.
	ExitCode int
	// Err is returned by Wait. A non-zero ExitCode without Err yields a generic error.
	Err error
	// SpawnErr makes Spawn itself fail.
	SpawnErr error
	// Delay is waited before exiting.
	Delay time.Duration
	// Hang blocks until the context is done.
	Hang bool
}

// Call records one Spawn invocation.
type Call struct {
	Prompt string
	Opts   provider.SpawnOptions
}

// Fake is a Provider whose behaviour is scripted per call.
type Fake struct {
	name      string
	streaming bool
	respond   func(n int, prompt string) Response

	mu    sync.Mutex
	calls []Call
}

// New creates a fake that answers every spawn with respond. n counts from 0.
func New(name string, respond func(n int, prompt string) Response) *Fake {
	return &Fake{name: name, streaming: true, respond: respond}
}

// Static creates a fake that always streams output and exits 0.
func Static(name string, output ...string) *Fake {
	return New(name, func(int, string) Response { return Response{Output: output} })
}

// Failing creates a fake that always exits with code 1.
func Failing(name string) *Fake {
	return New(name, func(int, string) Response { return Response{ExitCode: 1} })
}

func (f *Fake) Name() string            { return f.name }
func (f *Fake) SupportsStreaming() bool { return f.streaming }
func (f *Fake) AdaptPrompt(p string) string {
	return p
}

// Calls returns a copy of every recorded spawn.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// SpawnCount returns the number of Spawn calls, including failed ones.
func (f *Fake) SpawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Fake) Spawn(ctx context.Context, prompt string, opts provider.SpawnOptions) (provider.Process, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, Call{Prompt: prompt, Opts: opts})
	f.mu.Unlock()

	resp := f.respond(n, prompt)
	if resp.SpawnErr != nil {
		return nil, resp.SpawnErr
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &process{
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan provider.Chunk),
		done:   make(chan struct{}),
		resp:   resp,
	}
	go p.run()
	return p, nil
}

type process struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    chan provider.Chunk
	done   chan struct{}
	resp   Response

	err error
}

func (p *process) run() {
	defer close(p.done)
	defer close(p.out)

	for _, s := range p.resp.Output {
		select {
		case p.out <- provider.Chunk{Kind: provider.ChunkText, Text: s}:
		case <-p.ctx.Done():
			p.err = p.ctx.Err()
			return
		}
	}

	if p.resp.Hang {
		<-p.ctx.Done()
		p.err = p.ctx.Err()
		return
	}
	if p.resp.Delay > 0 {
		select {
		case <-time.After(p.resp.Delay):
		case <-p.ctx.Done():
			p.err = p.ctx.Err()
			return
		}
	}
}

func (p *process) Output() <-chan provider.Chunk { return p.out }

func (p *process) Wait() (int, error) {
	<-p.done
	defer p.cancel()
	if p.err != nil {
		return -1, p.err
	}
	if p.resp.Err != nil {
		code := p.resp.ExitCode
		if code == 0 {
			code = 1
		}
		return code, p.resp.Err
	}
	if p.resp.ExitCode != 0 {
		return p.resp.ExitCode, errExit
	}
	return 0, nil
}

func (p *process) Kill() error {
	p.cancel()
	return nil
}

func (p *process) PID() int       { return 0 }
func (p *process) Stderr() string { return "" }

type exitError struct{}

func (exitError) Error() string { return "non-zero exit" }

var errExit = exitError{}

var _ provider.Provider = (*Fake)(nil)
