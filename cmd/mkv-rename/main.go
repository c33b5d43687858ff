package main

// mkv-rename prefixes video files with the UNIX time they were recorded so a
// directory of them sorts chronologically by name.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/wezm/mkv-rename/internal/logging"
	"github.com/wezm/mkv-rename/internal/sortengine"
)

var (
	Version string = "dev"
)

const progName = "mkv-rename"

const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2
)

func usage(fs *pflag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage: %s [OPTIONS] FILE...\n\n", progName)
		fmt.Fprintf(w, "Rename MKV, MP4 and MOV files to \"<epoch> <name>\" using the creation date in their metadata.\n\n")
		fmt.Fprintf(w, "Options:\n")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := &sortengine.ConfigFlags{}
	var undo, showVersion bool

	fs := pflag.NewFlagSet(progName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = usage(fs, stdout)
	fs.BoolVarP(&flags.DryRun, "dry-run", "n", false, "Print the new names without renaming anything")
	fs.Float64VarP(&flags.TzOffset, "tz-offset", "t", 0, "Hours added to every timestamp (may be fractional or negative)")
	fs.StringVarP(&flags.ConfigFile, "config", "c", "", "Path to config file (default: ~/.mkv-rename.yml)")
	fs.BoolVar(&flags.InitConfig, "init", false, "Create default config file and exit")
	fs.BoolVarP(&flags.Verbose, "verbose", "v", false, "Print debug output and a full report")
	fs.StringVar(&flags.Color, "color", "", "Colorize output: auto, always or never")
	fs.StringVar(&flags.JournalFile, "journal", "", "Record renames in this database so they can be undone")
	fs.BoolVar(&flags.Exiftool, "exiftool", false, "Ask exiftool when a file has no creation date")
	fs.BoolVar(&undo, "undo", false, "Restore the original names of journaled files")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		// pflag has already printed the usage
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %s\n", err)
		fmt.Fprintf(stderr, "Try '%s --help' for more information.\n", progName)
		return exitInvalid
	}
	flags.TzOffsetSet = fs.Changed("tz-offset")

	if showVersion {
		fmt.Fprintf(stdout, "%s %s\n", progName, Version)
		return exitOK
	}

	if flags.InitConfig {
		configPath := flags.ConfigFile
		if configPath == "" {
			var err error
			configPath, err = sortengine.GetDefaultConfigPath()
			if err != nil {
				fmt.Fprintf(stderr, "Error getting default config path: %s\n", err)
				return exitFailed
			}
		}
		if err := sortengine.CreateDefaultConfig(configPath); err != nil {
			fmt.Fprintf(stderr, "Error creating config file: %s\n", err)
			return exitFailed
		}
		fmt.Fprintf(stdout, "Wrote %s\n", configPath)
		return exitOK
	}

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(stderr, "Error: no files given\n")
		fmt.Fprintf(stderr, "Try '%s --help' for more information.\n", progName)
		return exitInvalid
	}

	config, err := sortengine.LoadConfig(flags.ConfigFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %s\n", err)
		fmt.Fprintf(stderr, "Use --init to create a default config file\n")
		return exitInvalid
	}
	config.ApplyFlags(flags)
	if err := config.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return exitInvalid
	}

	log := logging.NewLoggerTo(stdout, stderr, config.Color, config.Verbose)
	engine, err := sortengine.NewEngine(config, log)
	if err != nil {
		log.Error("Error: %s", err)
		return exitInvalid
	}
	defer engine.Close()

	var ok bool
	if undo {
		ok = engine.Undo(paths)
	} else {
		ok = engine.Process(paths)
	}
	if !ok {
		return exitFailed
	}
	return exitOK
}

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		for sig := range c {
			fmt.Fprintf(os.Stderr, "Received %v\n", sig)
			os.Exit(exitFailed)
		}
	}()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
