package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// AnthropicConfig configures the API-backed provider.
type AnthropicConfig struct {
	// Name is the routing key, "anthropic" when empty.
	Name       string
	APIKey     string
	Model      string
	MaxTokens  int64
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption
}

// AnthropicProvider runs each instance as a streamed Messages API call.
type AnthropicProvider struct {
	name      string
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	bedrock   bool
}

// NewAnthropicProvider creates a provider backed by the Anthropic API or Bedrock.
func NewAnthropicProvider(ctx context.Context, cfg AnthropicConfig) (*AnthropicProvider, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider: API key is required")
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	opts = append(opts, cfg.RequestOptions...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &AnthropicProvider{
		name:      name,
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		bedrock:   cfg.UseBedrock,
	}, nil
}

// bedrockModel maps API model names to Bedrock cross-region inference profiles.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

func (a *AnthropicProvider) Name() string { return a.name }

func (a *AnthropicProvider) SupportsStreaming() bool { return true }

// AdaptPrompt strips tool-use instructions the API cannot act on.
func (a *AnthropicProvider) AdaptPrompt(prompt string) string {
	return prompt + "\n\nYou have no tool access. Answer directly with the complete content requested."
}

func (a *AnthropicProvider) Spawn(ctx context.Context, prompt string, opts SpawnOptions) (Process, error) {
	model := a.model
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
		if a.bedrock {
			model = bedrockModel(model)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &apiProcess{
		ctx:      ctx,
		cancel:   cancel,
		outputCh: make(chan Chunk, 100),
		done:     make(chan struct{}),
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(opts)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	go p.run(func() error {
		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !p.send(Chunk{Kind: ChunkText, Text: delta.Text}) {
						return ctx.Err()
					}
				}
			}
		}
		return stream.Err()
	})

	return p, nil
}

func systemPrompt(opts SpawnOptions) string {
	if opts.Role == "" {
		return "You are a software engineering agent."
	}
	return fmt.Sprintf("You are the %s agent in a multi-agent software engineering pipeline.", opts.Role)
}

// apiProcess adapts a streamed API call to the Process interface.
type apiProcess struct {
	ctx      context.Context
	cancel   context.CancelFunc
	outputCh chan Chunk
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (p *apiProcess) run(fn func() error) {
	defer close(p.done)
	defer close(p.outputCh)

	err := fn()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *apiProcess) send(c Chunk) bool {
	select {
	case p.outputCh <- c:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *apiProcess) Output() <-chan Chunk { return p.outputCh }

func (p *apiProcess) Wait() (int, error) {
	<-p.done
	defer p.cancel()

	p.mu.Lock()
	err := p.err
	p.mu.Unlock()

	if err == nil {
		return 0, nil
	}
	if ctxErr := p.ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	return 1, err
}

func (p *apiProcess) Kill() error {
	p.cancel()
	return nil
}

func (p *apiProcess) PID() int { return 0 }

func (p *apiProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return strings.TrimSpace(p.err.Error())
	}
	return ""
}

var (
	_ Provider = (*AnthropicProvider)(nil)
	_ Process  = (*apiProcess)(nil)
)
