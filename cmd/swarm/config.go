package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify swarm configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/swarm/config.yaml
Project-specific overrides can be placed in .swarm.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

func saveConfig(c *config.Config) error {
	if configPath != "" {
		return config.SaveToPath(c, configPath)
	}
	return config.Save(c)
}

// configKey exposes one settable field under its dot-notation name.
type configKey struct {
	get func(*config.Config) string
	set func(*config.Config, string) error
}

func stringKey(field func(*config.Config) *string) configKey {
	return configKey{
		get: func(c *config.Config) string { return *field(c) },
		set: func(c *config.Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(field func(*config.Config) *int) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			*field(c) = n
			return nil
		},
	}
}

func floatKey(field func(*config.Config) *float64) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.FormatFloat(*field(c), 'f', -1, 64) },
		set: func(c *config.Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid number: %w", err)
			}
			*field(c) = f
			return nil
		},
	}
}

func boolKey(field func(*config.Config) *bool) configKey {
	return configKey{
		get: func(c *config.Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean: %w", err)
			}
			*field(c) = b
			return nil
		},
	}
}

func durationKey(field func(*config.Config) *time.Duration) configKey {
	return configKey{
		get: func(c *config.Config) string { return field(c).String() },
		set: func(c *config.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			*field(c) = d
			return nil
		},
	}
}

func listKey(field func(*config.Config) *[]string) configKey {
	return configKey{
		get: func(c *config.Config) string { return strings.Join(*field(c), ",") },
		set: func(c *config.Config, v string) error {
			var items []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					items = append(items, s)
				}
			}
			*field(c) = items
			return nil
		},
	}
}

var configKeys = map[string]configKey{
	"anthropic.api_key": {
		get: func(c *config.Config) string { return config.MaskAPIKey(c.Anthropic.APIKey) },
		set: func(c *config.Config, v string) error {
			if err := config.ValidateAPIKey(v); err != nil {
				return err
			}
			c.Anthropic.APIKey = v
			return nil
		},
	},
	"anthropic.model":       stringKey(func(c *config.Config) *string { return &c.Anthropic.Model }),
	"anthropic.use_bedrock": boolKey(func(c *config.Config) *bool { return &c.Anthropic.UseBedrock }),
	"anthropic.aws_region":  stringKey(func(c *config.Config) *string { return &c.Anthropic.AWSRegion }),
	"anthropic.aws_profile": stringKey(func(c *config.Config) *string { return &c.Anthropic.AWSProfile }),

	"queue.max_concurrent_runs": intKey(func(c *config.Config) *int { return &c.Queue.MaxConcurrentRuns }),
	"queue.retention":           durationKey(func(c *config.Config) *time.Duration { return &c.Queue.Retention }),
	"queue.max_tracked":         intKey(func(c *config.Config) *int { return &c.Queue.MaxTracked }),

	"pipeline.confidence_threshold": intKey(func(c *config.Config) *int { return &c.Pipeline.ConfidenceThreshold }),
	"pipeline.max_reruns":           intKey(func(c *config.Config) *int { return &c.Pipeline.MaxReruns }),
	"pipeline.instance_timeout":     durationKey(func(c *config.Config) *time.Duration { return &c.Pipeline.InstanceTimeout }),
	"pipeline.work_dir":             stringKey(func(c *config.Config) *string { return &c.Pipeline.WorkDir }),

	"breaker.threshold":     intKey(func(c *config.Config) *int { return &c.Breaker.Threshold }),
	"breaker.reset_timeout": durationKey(func(c *config.Config) *time.Duration { return &c.Breaker.ResetTimeout }),

	"providers.order":             listKey(func(c *config.Config) *[]string { return &c.Providers.Order }),
	"providers.catalog_path":      stringKey(func(c *config.Config) *string { return &c.Providers.CatalogPath }),
	"providers.account.preferred": stringKey(func(c *config.Config) *string { return &c.Providers.Account.Preferred }),
	"providers.account.allowed":   listKey(func(c *config.Config) *[]string { return &c.Providers.Account.Allowed }),

	"consensus.semantic":          boolKey(func(c *config.Config) *bool { return &c.Consensus.Semantic }),
	"consensus.semantic_weight":   floatKey(func(c *config.Config) *float64 { return &c.Consensus.SemanticWeight }),
	"consensus.embedding_backend": stringKey(func(c *config.Config) *string { return &c.Consensus.EmbeddingBackend }),
	"consensus.embedding_model":   stringKey(func(c *config.Config) *string { return &c.Consensus.EmbeddingModel }),
	"consensus.embedding_url":     stringKey(func(c *config.Config) *string { return &c.Consensus.EmbeddingURL }),
	"consensus.fact_check":        boolKey(func(c *config.Config) *bool { return &c.Consensus.FactCheck }),

	"server.addr":            stringKey(func(c *config.Config) *string { return &c.Server.Addr }),
	"server.allowed_origins": listKey(func(c *config.Config) *[]string { return &c.Server.AllowedOrigins }),
	"server.ping_interval":   durationKey(func(c *config.Config) *time.Duration { return &c.Server.PingInterval }),

	"store.driver": stringKey(func(c *config.Config) *string { return &c.Store.Driver }),
	"store.path":   stringKey(func(c *config.Config) *string { return &c.Store.Path }),

	"telemetry.endpoint":     stringKey(func(c *config.Config) *string { return &c.Telemetry.Endpoint }),
	"telemetry.insecure":     boolKey(func(c *config.Config) *bool { return &c.Telemetry.Insecure }),
	"telemetry.service_name": stringKey(func(c *config.Config) *string { return &c.Telemetry.ServiceName }),

	"log.level":  stringKey(func(c *config.Config) *string { return &c.Log.Level }),
	"log.format": stringKey(func(c *config.Config) *string { return &c.Log.Format }),

	"control.signals_dir": stringKey(func(c *config.Config) *string { return &c.Control.SignalsDir }),
	"tui.refresh_rate":    durationKey(func(c *config.Config) *time.Duration { return &c.TUI.RefreshRate }),
}

// displayAllConfig prints all configuration values sorted by key.
func displayAllConfig(w io.Writer, c *config.Config) {
	names := make([]string, 0, len(configKeys))
	for name := range configKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, configKeys[name].get(c))
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(c *config.Config, key string) (string, error) {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return k.get(c), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(c *config.Config, key, value string) error {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := k.set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
