package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// PackageName is the root package to build.
	PackageName string

	// IndexPath points at the YAML channel index listing the manifest
	// repositories.
	IndexPath string

	// SourceRef pins the root package version; empty means highest known.
	SourceRef string

	Dest        string
	Jobs        int
	Generic     bool
	Libc        string
	Keepwork    bool
	BuildDebug  bool
	Release     bool
	Revision    string
	Subdist     string
	Tags        map[string]string
	Compression []string

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.PackageName == "" {
		return nil, errors.New("PackageName is a required configuration field and cannot be empty")
	}
	if cfg.IndexPath == "" {
		return nil, errors.New("IndexPath is a required configuration field and cannot be empty")
	}
	if cfg.Revision == "" {
		cfg.Revision = "1"
	}
	return &cfg, nil
}
