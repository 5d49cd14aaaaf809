package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/config"
	"github.com/dokzlo13/milight/internal/logging"
)

const usage = `Usage:
  milight [-c config.yaml] -i 192.168.0.230 [-p 8899] -w 1 -a on [-n steps] [-capture out.pcap]
  milight serve   -c config.yaml
  milight script  [-c config.yaml] file.lua
  milight history [-c config.yaml] [-limit N]
  milight dump    capture.pcap
`

func main() {
	args := os.Args[1:]

	cmd := "send"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "script", "history", "dump":
			cmd, args = args[0], args[1:]
		}
	}

	var code int
	switch cmd {
	case "serve":
		code = runServe(args)
	case "script":
		code = runScript(args)
	case "history":
		code = runHistory(args, os.Stdout)
	case "dump":
		code = runDump(args, os.Stdout)
	default:
		code = runSend(args, os.Stdout)
	}
	os.Exit(code)
}

// newFlagSet creates a flag set with the shared -c/-config flag.
func newFlagSet(name string, configPath *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	// Support both -c and -config for config path
	fs.StringVar(configPath, "config", "", "Path to configuration file")
	fs.StringVar(configPath, "c", "", "Path to configuration file (shorthand)")
	return fs
}

// loadConfig loads path, or the built-in defaults when path is empty,
// and sets up logging from the result.
func loadConfig(path string) (*config.Config, io.Closer) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			logging.Setup(config.Default().Log)
			log.Fatal().Err(err).Str("config", path).Msg("Failed to load configuration")
		}
	}

	closer := logging.Setup(cfg.Log)
	if path != "" {
		log.Debug().Str("config", path).Msg("Configuration loaded")
	}
	return cfg, closer
}

// isSet reports whether the named flag was given on the command line.
func isSet(fs *flag.FlagSet, names ...string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		for _, n := range names {
			if f.Name == n {
				found = true
			}
		}
	})
	return found
}
