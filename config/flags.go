package config

import (
	"flag"
	"io"
)

// Flags are the command line options.
type Flags struct {
	ConfigPath string
	Setup      bool
}

// ParseFlags parses command line arguments without the program name.
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	fs := flag.NewFlagSet("yieldcron", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	var f Flags
	fs.StringVar(&f.ConfigPath, "config", DefaultPath, "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard and write the config file")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}
