package common

import (
	"flag"
)

// CommonFlags contains flags that are shared across multiple commands
type CommonFlags struct {
	EnvFile *string
	Config  *string
	Version *bool
}

// RegisterCommonFlags registers the shared flags on fs.
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile: fs.String("env", ".env", "Environment file path"),
		Config:  fs.String("config", "", "Configuration file (yaml, json or toml); RISKGATE_* variables override it"),
		Version: fs.Bool("version", false, "Show version information"),
	}
}
