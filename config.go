package reporter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-reporter/flags"
	"github.com/ethereum-optimism/infra/op-reporter/types"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	InputPath   string               // Path to the raw run JSON file
	OutputDir   string               // Directory report artifacts are written to
	Formats     []types.FormatConfig // One entry per artifact to generate
	RunInterval time.Duration        // Interval between report generations
	RunOnce     bool                 // Indicates if the service should exit after one generation

	BatchSize        int    // Suites per streaming batch (0 = default)
	MemoryLimitBytes uint64 // Heap ceiling for streaming aggregation (0 = default)

	Concurrency int           // Number of concurrent render workers (0 = auto-determine)
	TaskTimeout time.Duration // Per-format render budget (0 = default)

	RetryAttempts int  // Maximum write attempts per artifact (0 = default)
	Compress      bool // Gzip-compress written artifacts

	CacheMaxBytes int64         // Compiled-template cache ceiling (0 = default)
	CacheTTL      time.Duration // Compiled-template entry lifetime (0 = default)

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	// Parse flags
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	inputPath := ctx.String(flags.Input.Name)
	if inputPath == "" {
		return nil, errors.New("input file is required")
	}
	absInputPath, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for input file '%s': %w", inputPath, err)
	}

	outputDir := ctx.String(flags.OutputDir.Name)
	if outputDir == "" {
		outputDir = "reports"
	}
	absOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for output directory '%s': %w", outputDir, err)
	}

	formats, err := resolveFormats(ctx)
	if err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	memoryLimitMB := ctx.Int(flags.MemoryLimitMB.Name)
	if memoryLimitMB < 0 {
		return nil, fmt.Errorf("memory limit cannot be negative: %d", memoryLimitMB)
	}

	return &Config{
		InputPath:        absInputPath,
		OutputDir:        absOutputDir,
		Formats:          formats,
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		BatchSize:        ctx.Int(flags.BatchSize.Name),
		MemoryLimitBytes: uint64(memoryLimitMB) << 20,
		Concurrency:      ctx.Int(flags.Concurrency.Name),
		TaskTimeout:      ctx.Duration(flags.TaskTimeout.Name),
		RetryAttempts:    ctx.Int(flags.RetryAttempts.Name),
		Compress:         ctx.Bool(flags.Compress.Name),
		CacheMaxBytes:    int64(ctx.Int(flags.CacheMaxMB.Name)) << 20,
		CacheTTL:         ctx.Duration(flags.CacheTTL.Name),
		Log:              log,
	}, nil
}

// resolveFormats builds the per-format configs, either from the YAML
// profile file or from the repeatable --format flag with defaults.
func resolveFormats(ctx *cli.Context) ([]types.FormatConfig, error) {
	if profilePath := ctx.String(flags.FormatsConfig.Name); profilePath != "" {
		return LoadFormatProfile(profilePath)
	}

	names := ctx.StringSlice(flags.Formats.Name)
	if len(names) == 0 {
		return nil, errors.New("at least one report format is required")
	}

	formats := make([]types.FormatConfig, 0, len(names))
	seen := make(map[types.Format]bool)
	for _, name := range names {
		format, err := types.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		if seen[format] {
			return nil, fmt.Errorf("format %s requested more than once", format)
		}
		seen[format] = true
		cfg, err := types.DefaultConfigFor(format)
		if err != nil {
			return nil, err
		}
		formats = append(formats, cfg)
	}
	return formats, nil
}

// formatProfile is the YAML shape of a formats config file:
//
//	formats:
//	  - format: html
//	    title: Nightly acceptance run
//	  - format: markdown
//	    include_slowest: true
type formatProfile struct {
	Formats []formatEntry `yaml:"formats"`
}

type formatEntry struct {
	cfg types.FormatConfig
}

func (e *formatEntry) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Format string `yaml:"format"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	format, err := types.ParseFormat(head.Format)
	if err != nil {
		return err
	}

	switch format {
	case types.FormatHTML:
		var cfg types.HTMLConfig
		if err := node.Decode(&cfg); err != nil {
			return err
		}
		e.cfg = cfg
	case types.FormatMarkdown:
		var cfg types.MarkdownConfig
		if err := node.Decode(&cfg); err != nil {
			return err
		}
		e.cfg = cfg
	case types.FormatJSON:
		var cfg types.JSONConfig
		if err := node.Decode(&cfg); err != nil {
			return err
		}
		e.cfg = cfg
	}
	return nil
}

// LoadFormatProfile reads per-format settings from a YAML file.
func LoadFormatProfile(path string) ([]types.FormatConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formats config '%s': %w", path, err)
	}

	var profile formatProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse formats config '%s': %w", path, err)
	}
	if len(profile.Formats) == 0 {
		return nil, fmt.Errorf("formats config '%s' declares no formats", path)
	}

	formats := make([]types.FormatConfig, 0, len(profile.Formats))
	seen := make(map[types.Format]bool)
	for _, entry := range profile.Formats {
		if seen[entry.cfg.Format()] {
			return nil, fmt.Errorf("formats config '%s' declares %s more than once", path, entry.cfg.Format())
		}
		seen[entry.cfg.Format()] = true
		formats = append(formats, entry.cfg)
	}
	return formats, nil
}
