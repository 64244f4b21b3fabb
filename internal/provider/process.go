package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// OutputFormat selects how a CLI agent's stdout is parsed.
type OutputFormat string

const (
	// FormatStreamJSON parses claude-style newline-delimited JSON events.
	FormatStreamJSON OutputFormat = "stream-json"
	// FormatText treats every stdout line as assistant text.
	FormatText OutputFormat = "text"
)

// killGrace bounds how long a terminated process may keep its pipes open.
const killGrace = 5 * time.Second

// cliProcess supervises one agent subprocess.
type cliProcess struct {
	cmd    *exec.Cmd
	format OutputFormat
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx      context.Context
	cancel   context.CancelFunc
	outputCh chan Chunk
	done     chan struct{}
	once     sync.Once

	mu        sync.Mutex
	stderrBuf []byte
}

// startProcess launches name with args in dir. Cancelling ctx sends SIGTERM,
// followed by SIGKILL if the process outlives killGrace.
func startProcess(ctx context.Context, format OutputFormat, dir string, env []string, name string, args ...string) (*cliProcess, error) {
	ctx, cancel := context.WithCancel(ctx)
	p := &cliProcess{
		format:   format,
		ctx:      ctx,
		cancel:   cancel,
		outputCh: make(chan Chunk, 100),
		done:     make(chan struct{}),
	}

	p.cmd = exec.CommandContext(ctx, name, args...)
	p.cmd.Dir = dir
	if len(env) > 0 {
		p.cmd.Env = append(p.cmd.Environ(), env...)
	}
	configureTermination(p.cmd)

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start process: %w", err)
	}

	go p.readOutput()
	go p.readStderr()

	return p, nil
}

func (p *cliProcess) readOutput() {
	defer close(p.done)
	defer close(p.outputCh)

	scanner := bufio.NewScanner(p.stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunks []Chunk
		if p.format == FormatStreamJSON {
			parsed, err := parseStreamLine(line)
			if err != nil {
				// Non-JSON lines from a stream-json agent are kept as text.
				parsed = []Chunk{{Kind: ChunkText, Text: string(line) + "\n"}}
			}
			chunks = parsed
		} else {
			chunks = []Chunk{{Kind: ChunkText, Text: string(line) + "\n"}}
		}

		for _, c := range chunks {
			select {
			case p.outputCh <- c:
			case <-p.ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && p.ctx.Err() == nil {
		select {
		case p.outputCh <- Chunk{Kind: ChunkError, Text: fmt.Sprintf("read error: %v", err)}:
		case <-p.ctx.Done():
		}
	}
}

func (p *cliProcess) readStderr() {
	scanner := bufio.NewScanner(p.stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.mu.Lock()
		p.stderrBuf = append(p.stderrBuf, line...)
		p.stderrBuf = append(p.stderrBuf, '\n')
		p.mu.Unlock()
	}
}

func (p *cliProcess) Output() <-chan Chunk {
	return p.outputCh
}

// Wait waits for stdout to drain and the process to exit. Once the context
// is done it stops waiting for EOF, since orphaned children may hold stdout.
func (p *cliProcess) Wait() (int, error) {
	select {
	case <-p.done:
	case <-p.ctx.Done():
	}
	err := p.cmd.Wait()
	<-p.done
	defer p.cancel()

	if err == nil {
		return 0, nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	if ctxErr := p.ctx.Err(); ctxErr != nil {
		return exitCode, ctxErr
	}

	errMsg := fmt.Sprintf("process exited with error: %v", err)
	if stderr := p.Stderr(); stderr != "" {
		errMsg += "; stderr: " + truncate(stderr, 2000)
	}
	return exitCode, errors.New(errMsg)
}

// Kill cancels the process context, which terminates the subprocess.
func (p *cliProcess) Kill() error {
	p.once.Do(p.cancel)
	return nil
}

func (p *cliProcess) PID() int {
	if p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func (p *cliProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.stderrBuf)
}

var _ Process = (*cliProcess)(nil)
