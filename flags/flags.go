package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
)

const EnvVarPrefix = "OP_REPORTER"

var (
	Input = &cli.StringFlag{
		Name:     "input",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "INPUT"),
		Usage:    "Path to the raw test run JSON file (may be gzip-compressed, '.gz')",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   "reports",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT_DIR"),
		Usage:   "Directory to write generated report artifacts into",
	}
	Formats = &cli.StringSliceFlag{
		Name:    "format",
		Value:   cli.NewStringSlice("html", "markdown", "json"),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORMAT"),
		Usage:   "Report format to generate (repeatable): html, markdown (md), json",
	}
	FormatsConfig = &cli.StringFlag{
		Name:    "formats-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORMATS_CONFIG"),
		Usage:   "Path to a YAML file with per-format settings (eg. 'formats.yaml'). Overrides --format.",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between report generations (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	BatchSize = &cli.IntFlag{
		Name:    "batch-size",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BATCH_SIZE"),
		Usage:   "Suites per streaming batch (0 = default)",
	}
	MemoryLimitMB = &cli.IntFlag{
		Name:    "memory-limit-mb",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MEMORY_LIMIT_MB"),
		Usage:   "Heap ceiling for streaming aggregation in MiB (0 = default)",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of concurrent render workers (0 = auto-determine)",
	}
	TaskTimeout = &cli.DurationFlag{
		Name:    "task-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TASK_TIMEOUT"),
		Usage:   "Per-format render timeout (0 = default)",
	}
	RetryAttempts = &cli.IntFlag{
		Name:    "retry-attempts",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RETRY_ATTEMPTS"),
		Usage:   "Maximum write attempts per artifact (0 = default)",
	}
	Compress = &cli.BoolFlag{
		Name:    "compress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPRESS"),
		Usage:   "Gzip-compress written artifacts ('.gz' suffix is appended)",
	}
	CacheMaxMB = &cli.IntFlag{
		Name:    "cache-max-mb",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CACHE_MAX_MB"),
		Usage:   "Compiled-template cache size ceiling in MiB (0 = default)",
	}
	CacheTTL = &cli.DurationFlag{
		Name:    "cache-ttl",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CACHE_TTL"),
		Usage:   "Compiled-template cache entry lifetime (0 = default)",
	}
)

var requiredFlags = []cli.Flag{
	Input,
}

var optionalFlags = []cli.Flag{
	OutputDir,
	Formats,
	FormatsConfig,
	RunInterval,
	BatchSize,
	MemoryLimitMB,
	Concurrency,
	TaskTimeout,
	RetryAttempts,
	Compress,
	CacheMaxMB,
	CacheTTL,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
