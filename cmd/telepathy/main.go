// Command telepathy is a thin CLI over pkg/telepathy: connect to a target,
// resolve or read a symbol, or run a DAQ acquisition for a fixed duration.
// It deliberately does no protocol work itself, only argument parsing and
// dispatch, matching cmd/aegis-edge's subcommand-per-flag.NewFlagSet style.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ultimaker/OpenTelepathy/pkg/telepathy"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "connect":
		err = connectCommand(os.Args[2:])
	case "resolve":
		err = resolveCommand(os.Args[2:])
	case "read":
		err = readCommand(os.Args[2:])
	case "write":
		err = writeCommand(os.Args[2:])
	case "daq":
		err = daqCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("telepathy %s: %v", cmd, err)
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./telepathy.yaml", "Path to session configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := telepathy.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func connectCommand(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	cfgPath := fs.String("config", "./telepathy.yaml", "Path to session configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := telepathy.Open(*cfgPath)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	fmt.Printf("connected, state=%v\n", sess.State())
	return nil
}

func resolveCommand(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	cfgPath := fs.String("config", "./telepathy.yaml", "Path to session configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: telepathy resolve -config <path> <symbol-path>")
	}

	sess, err := telepathy.Open(*cfgPath)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	h, err := sess.Resolve(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("%s: address=0x%08X type=%v\n", h.Path, h.Symbol.Address, h.Symbol.Type)
	return nil
}

func readCommand(args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	cfgPath := fs.String("config", "./telepathy.yaml", "Path to session configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: telepathy read -config <path> <symbol-path>")
	}

	sess, err := telepathy.Open(*cfgPath)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	v, err := sess.Read(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func writeCommand(args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	cfgPath := fs.String("config", "./telepathy.yaml", "Path to session configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: telepathy write -config <path> <symbol-path> <value>")
	}

	sess, err := telepathy.Open(*cfgPath)
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	f, err := strconv.ParseFloat(fs.Arg(1), 64)
	if err != nil {
		return fmt.Errorf("value %q is not a number: %w", fs.Arg(1), err)
	}
	return sess.Write(fs.Arg(0), telepathy.FloatValue(f))
}

// daqCommand assigns every "path=channel" pair given on the command line,
// starts acquisition, prints samples as they arrive for duration, then
// stops cleanly.
func daqCommand(args []string) error {
	fs := flag.NewFlagSet("daq", flag.ExitOnError)
	cfgPath := fs.String("config", "./telepathy.yaml", "Path to session configuration file")
	duration := fs.Duration("duration", 5*time.Second, "How long to acquire before stopping")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: telepathy daq -config <path> [-duration 5s] <path=channel>...")
	}

	assignment, err := parseAssignment(fs.Args())
	if err != nil {
		return err
	}

	samples := make(chan []telepathy.Sample, 16)
	sess, err := telepathy.Open(*cfgPath, telepathy.WithConsumer(printingConsumer{samples}))
	if err != nil {
		return err
	}
	defer sess.Disconnect()

	if _, err := sess.DaqConfigure(assignment); err != nil {
		return err
	}
	if err := sess.DaqStart(); err != nil {
		return err
	}

	deadline := time.After(*duration)
loop:
	for {
		select {
		case batch := <-samples:
			for _, s := range batch {
				fmt.Printf("[list %d] %s %v\n", s.ListIndex, s.Timestamp.Format(time.RFC3339Nano), s.Values)
			}
		case <-deadline:
			break loop
		}
	}
	return sess.DaqStop()
}

type printingConsumer struct {
	out chan<- []telepathy.Sample
}

func (p printingConsumer) Deliver(samples []telepathy.Sample) error {
	select {
	case p.out <- samples:
	default:
		// Best effort; a full channel means the printer is behind, drop
		// rather than block DAQ dispatch.
	}
	return nil
}

func parseAssignment(args []string) (map[string]uint8, error) {
	out := make(map[string]uint8, len(args))
	for _, a := range args {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected path=channel, got %q", a)
		}
		ch, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("channel %q is not a valid uint8: %w", parts[1], err)
		}
		out[parts[0]] = uint8(ch)
	}
	return out, nil
}

func printUsage() {
	fmt.Print(`telepathy CLI

Usage:
  telepathy <command> [flags]

Commands:
  connect   Connect to the target and print the resulting session state
  resolve   Resolve a symbol path and print its address and type
  read      Read and print a variable's current value
  write     Write a floating-point value to a float variable
  daq       Assign symbols to event channels, acquire for a duration, print samples
  validate  Load and validate a config file without connecting

Examples:
  telepathy connect -config ./telepathy.yaml
  telepathy resolve -config ./telepathy.yaml motorSpeed
  telepathy daq -config ./telepathy.yaml -duration 10s motorSpeed=1 motorTemp=1
`)
}
