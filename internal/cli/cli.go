package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/vk/pkgforge/internal/app"
	"github.com/vk/pkgforge/internal/archive"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := pflag.NewFlagSet("pkgforge", pflag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
pkgforge - A dependency-resolving package build tool.

Usage:
  pkgforge [options] PACKAGE

Arguments:
  PACKAGE
    Name of the root package to build, as listed in the channel index.

Options:
`)
		fmt.Fprintln(output, flagSet.FlagUsages())
	}

	indexFlag := flagSet.String("index", "", "Path to the YAML channel index listing manifest repositories.")
	destFlag := flagSet.String("dest", "artifacts", "Directory that receives the build artifacts.")
	jobsFlag := flagSet.Int("jobs", 0, "Number of concurrent package builds. 0 means one per CPU.")
	genericFlag := flagSet.Bool("generic", false, "Build a portable image without host-specific optimizations.")
	libcFlag := flagSet.String("libc", "", "Target libc flavor (e.g. 'musl'). Empty means the host default.")
	keepworkFlag := flagSet.Bool("keepwork", false, "Keep the temporary work directory after the build.")
	buildDebugFlag := flagSet.Bool("build-debug", false, "Keep debug symbols in built binaries.")
	releaseFlag := flagSet.Bool("release", false, "Mark the build as a release build.")
	sourceRefFlag := flagSet.String("source-ref", "", "Exact root package version to build. Empty means highest known.")
	revisionFlag := flagSet.String("pkg-revision", "1", "Package revision appended to the artifact name.")
	subdistFlag := flagSet.String("pkg-subdist", "", "Sub-distribution tag recorded in the build metadata (e.g. 'nightly').")
	tagsFlag := flagSet.String("pkg-tags", "", "Comma-separated key=value pairs recorded in the build metadata.")
	compressionFlag := flagSet.String("pkg-compression", "", "Comma-separated artifact compression schemes: gzip, zstd, lz4, zip.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No package name provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: "expected exactly one PACKAGE argument"}
	}
	packageName := flagSet.Arg(0)
	slog.Debug("Root package determined.", "package", packageName)

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	tags, err := parseTags(*tagsFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	compression, err := archive.NormalizeSchemes(*compressionFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PackageName: packageName,
		IndexPath:   *indexFlag,
		SourceRef:   *sourceRefFlag,
		Dest:        *destFlag,
		Jobs:        *jobsFlag,
		Generic:     *genericFlag,
		Libc:        *libcFlag,
		Keepwork:    *keepworkFlag,
		BuildDebug:  *buildDebugFlag,
		Release:     *releaseFlag,
		Revision:    *revisionFlag,
		Subdist:     *subdistFlag,
		Tags:        tags,
		Compression: compression,
		LogFormat:   logFormat,
		LogLevel:    logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// parseTags splits a comma-separated key=value list into a map.
func parseTags(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid pkg-tags entry %q: expected key=value", pair)
		}
		tags[key] = value
	}
	return tags, nil
}
