package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/app"
	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/capture"
	"github.com/dokzlo13/milight/internal/ledger"
	"github.com/dokzlo13/milight/internal/milight"
	"github.com/dokzlo13/milight/internal/script"
)

// newServices is replaced in tests to avoid real sockets.
var newServices = app.NewServices

func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

// runSend is the one-shot mode: one action for one group selector.
func runSend(args []string, out io.Writer) int {
	var configPath, ip, action, capturePath string
	var port, white, steps int

	fs := newFlagSet("milight", &configPath)
	fs.StringVar(&ip, "ip_address", "127.0.0.1", "Bridge IPv4 address")
	fs.StringVar(&ip, "i", "127.0.0.1", "Bridge IPv4 address (shorthand)")
	fs.IntVar(&port, "port", milight.DefaultPort, "Bridge UDP port")
	fs.IntVar(&port, "p", milight.DefaultPort, "Bridge UDP port (shorthand)")
	fs.IntVar(&white, "white", -1, "White group: -1 none, 0 all, 1-4")
	fs.IntVar(&white, "w", -1, "White group (shorthand)")
	fs.StringVar(&action, "action", "", "Action: on, off, inc_brightness, dec_brightness, inc_warmth, dec_warmth, bright_mode, night_mode")
	fs.StringVar(&action, "a", "", "Action (shorthand)")
	fs.IntVar(&steps, "steps", 1, "Repeat the action N times (1-30)")
	fs.IntVar(&steps, "n", 1, "Repeat count (shorthand)")
	fs.StringVar(&capturePath, "capture", "", "Also write sent datagrams to this pcap file")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return 2
	}

	cfg, closer := loadConfig(configPath)
	defer closer.Close()

	// Flags override the config file
	if isSet(fs, "i", "ip_address") {
		cfg.Bridge.Address = ip
	}
	if isSet(fs, "p", "port") {
		cfg.Bridge.Port = port
	}
	if capturePath != "" {
		cfg.Capture.Path = capturePath
	}

	addr, err := cfg.Bridge.UDPAddr()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid bridge address")
	}

	if white < 0 {
		log.Debug().Str("bridge", addr.String()).Msg("No group selected, nothing to do")
		return 0
	}

	a, err := milight.ParseAction(action)
	if err != nil {
		fmt.Fprintf(out, "Action not supported: %q\n", action)
		return 2
	}
	g, err := milight.ParseGroup(white)
	if err != nil {
		fmt.Fprintln(out, err)
		return 2
	}

	services, err := newServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up bridge")
	}
	defer services.Close()

	res, err := services.Controller.Invoke(context.Background(), bridge.Request{
		Group:  g,
		Action: a,
		Steps:  steps,
		Source: "cli",
	})
	if errors.Is(err, bridge.ErrInvalidSteps) {
		fmt.Fprintln(out, err)
		return 2
	}
	if err != nil {
		services.Close()
		log.Fatal().Err(err).Str("action", a.String()).Str("group", g.String()).Msg("Action failed")
	}

	log.Debug().Str("id", res.ID).Int("sent", res.Sent).Msg("Done")
	return 0
}

// runServe runs the MQTT service and HTTP API until a shutdown signal.
func runServe(args []string) int {
	var configPath string
	fs := newFlagSet("serve", &configPath)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, closer := loadConfig(configPath)
	defer closer.Close()

	log.Info().Str("config", configPath).Msg("Starting milight")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if err := application.Run(app.SignalContext()); err != nil {
		log.Error().Err(err).Msg("milight stopped")
		return 1
	}
	return 0
}

// runScript runs one Lua script against the configured bridge.
func runScript(args []string) int {
	var configPath string
	fs := newFlagSet("script", &configPath)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg, closer := loadConfig(configPath)
	defer closer.Close()

	services, err := newServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up bridge")
	}
	defer services.Close()

	rt := script.NewRuntime(services.Controller, nil)
	defer rt.Close()

	if err := rt.RunFile(app.SignalContext(), fs.Arg(0)); err != nil {
		log.Error().Err(err).Msg("Script failed")
		return 1
	}
	return 0
}

// runHistory prints recent ledger entries.
func runHistory(args []string, out io.Writer) int {
	var configPath string
	var limit, group int
	fs := newFlagSet("history", &configPath)
	fs.IntVar(&limit, "limit", 20, "Number of entries to show")
	fs.IntVar(&group, "group", -1, "Only show one group (0 all, 1-4)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, closer := loadConfig(configPath)
	defer closer.Close()

	if cfg.Database.Path == "" {
		fmt.Fprintln(out, "history is disabled: set database.path in the config")
		return 1
	}

	services, err := newServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer services.Close()

	var entries []*ledger.Entry
	if group >= 0 {
		entries, err = services.Ledger.ByGroup(group, limit)
	} else {
		entries, err = services.Ledger.Recent(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tGROUP\tACTION\tSTEPS\tOPCODES\tSTATUS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t% X\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Source, e.Group, e.Action, e.Steps, e.Opcodes, e.Status, e.Error)
	}
	tw.Flush()
	return 0
}

// runDump decodes a capture file into opcodes and the commands they can mean.
func runDump(args []string, out io.Writer) int {
	var configPath string
	fs := newFlagSet("dump", &configPath)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	_, closer := loadConfig(configPath)
	defer closer.Close()

	records, err := capture.ReadFile(fs.Arg(0))
	if err != nil {
		log.Error().Err(err).Str("file", fs.Arg(0)).Msg("Failed to read capture")
		return 1
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDESTINATION\tOPCODE\tCOMMANDS")
	for _, r := range records {
		desc := "unknown"
		if cmds := r.Commands(); len(cmds) > 0 {
			names := make([]string, len(cmds))
			for i, c := range cmds {
				names[i] = c.String()
			}
			desc = strings.Join(names, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.Timestamp.Format("15:04:05.000"), r.Dst, r.Packet.Opcode(), desc)
	}
	tw.Flush()
	fmt.Fprintf(out, "%d datagrams\n", len(records))
	return 0
}
