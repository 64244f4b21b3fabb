package provider

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Placeholders expanded in Definition.Args.
const (
	PlaceholderPrompt = "{{prompt}}"
	PlaceholderModel  = "{{model}}"
)

// Definition describes a command-line agent.
type Definition struct {
	// Name is the routing key.
	Name string `yaml:"name"`
	// Command is the executable to run.
	Command string `yaml:"command"`
	// Args are passed to Command. {{prompt}} and {{model}} are substituted.
	Args []string `yaml:"args"`
	// ModelArgs are appended before Args when a model is requested.
	ModelArgs []string `yaml:"model_args,omitempty"`
	// Format is stream-json or text.
	Format OutputFormat `yaml:"format"`
	// Streaming reports whether output arrives before exit.
	Streaming bool `yaml:"streaming"`
	// PromptPrefix is prepended by AdaptPrompt.
	PromptPrefix string `yaml:"prompt_prefix,omitempty"`
	// Env holds extra KEY=value pairs for the subprocess.
	Env []string `yaml:"env,omitempty"`
}

// Validate checks that the definition can be spawned.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("provider definition: name is required")
	}
	if d.Command == "" {
		return fmt.Errorf("provider %s: command is required", d.Name)
	}
	switch d.Format {
	case FormatStreamJSON, FormatText:
	default:
		return fmt.Errorf("provider %s: unknown format %q", d.Name, d.Format)
	}
	hasPrompt := false
	for _, a := range d.Args {
		if strings.Contains(a, PlaceholderPrompt) {
			hasPrompt = true
			break
		}
	}
	if !hasPrompt {
		return fmt.Errorf("provider %s: args must contain %s", d.Name, PlaceholderPrompt)
	}
	return nil
}

// ClaudeDefinition returns the built-in definition for the claude CLI.
func ClaudeDefinition() Definition {
	return Definition{
		Name:    "claude",
		Command: "claude",
		Args: []string{
			"--output-format", "stream-json",
			"--print",
			"--verbose",
			"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep,WebFetch",
			"-p", PlaceholderPrompt,
		},
		ModelArgs: []string{"--model", PlaceholderModel},
		Format:    FormatStreamJSON,
		Streaming: true,
	}
}

// CLIProvider spawns a command-line agent per instance.
type CLIProvider struct {
	def Definition
}

// NewCLIProvider creates a provider from a validated definition.
func NewCLIProvider(def Definition) (*CLIProvider, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &CLIProvider{def: def}, nil
}

func (c *CLIProvider) Name() string { return c.def.Name }

func (c *CLIProvider) SupportsStreaming() bool { return c.def.Streaming }

func (c *CLIProvider) AdaptPrompt(prompt string) string {
	if c.def.PromptPrefix == "" {
		return prompt
	}
	return c.def.PromptPrefix + "\n\n" + prompt
}

// Available reports whether the command is on PATH.
func (c *CLIProvider) Available() bool {
	_, err := exec.LookPath(c.def.Command)
	return err == nil
}

func (c *CLIProvider) Spawn(ctx context.Context, prompt string, opts SpawnOptions) (Process, error) {
	args := c.buildArgs(prompt, opts.Model)
	return startProcess(ctx, c.def.Format, opts.WorkDir, c.def.Env, c.def.Command, args...)
}

func (c *CLIProvider) buildArgs(prompt, model string) []string {
	var args []string
	if model != "" {
		args = append(args, expand(c.def.ModelArgs, prompt, model)...)
	}
	return append(args, expand(c.def.Args, prompt, model)...)
}

func expand(tmpl []string, prompt, model string) []string {
	out := make([]string, len(tmpl))
	r := strings.NewReplacer(PlaceholderPrompt, prompt, PlaceholderModel, model)
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

var _ Provider = (*CLIProvider)(nil)
