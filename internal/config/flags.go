package config

import (
	"flag"
	"io"
)

// Flags are the command line options shared by every command.
type Flags struct {
	ConfigFile  string
	LogLevel    string
	MetricsAddr string
	Backend     string
}

// ParseFlags parses args (without the program name) for the command name.
// -c and -config are synonyms. Empty strings mean "keep the file value".
func ParseFlags(name string, args []string, output io.Writer) (Flags, error) {
	var f Flags

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&f.ConfigFile, "c", "configs/config.json", "Path to the configuration file (JSON or YAML)")
	fs.StringVar(&f.ConfigFile, "config", "configs/config.json", "Path to the configuration file (JSON or YAML)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn or error (overrides log_level)")
	fs.StringVar(&f.MetricsAddr, "metrics", "", "Address of the Prometheus endpoint, e.g. :9102 (overrides metrics_addr)")
	fs.StringVar(&f.Backend, "backend", "", "CAN backend: socketcan or sim (overrides backend)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Apply overrides the file values with the flags that were set.
func (f Flags) Apply(c *Config) {
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.MetricsAddr != "" {
		c.MetricsAddr = f.MetricsAddr
	}
	if f.Backend != "" {
		c.Backend = f.Backend
	}
}
