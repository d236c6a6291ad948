// Package main provides the memsim command. It builds a machine from a
// configuration file, optionally loads an ELF image, replays a memory
// access trace against the instruction and data ports and prints the cache
// statistics.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/sarchlab/memsim/loader"
	"github.com/sarchlab/memsim/machine"
)

var (
	configPath = flag.String("config", "", "Path to machine configuration JSON file")
	tracePath  = flag.String("trace", "", "Path to the access trace (- for stdin)")
	elfPath    = flag.String("elf", "", "ELF image loaded into memory before the trace")
	echo       = flag.Bool("echo", false, "Print the value of every traced read")
	mmuStats   = flag.Bool("mmu-stats", false, "Print per range access counts")
	memvizPath = flag.String("memviz", "", "Write a graphviz dump of the allocated memory to file")
	statsAddr  = flag.String("statsview", "", "Serve live runtime statistics at this address")
	cpuProfile = flag.String("cpuprofile", "", "Write cpu profile to file")
	verbosity  = flag.Int("v", 0, "Log verbosity")
	dumps      dumpRanges
)

func main() {
	flag.Var(&dumps, "dump-range", "Dump words of start,len to path after the run (repeatable)")
	flag.Parse()

	log := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: *verbosity})

	if *tracePath == "" && *elfPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: memsim [options] -trace <trace.txt>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(log, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(log logr.Logger, out io.Writer) error {
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return fmt.Errorf("failed to create cpu profile: %w", err)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start cpu profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if *statsAddr != "" {
		launchStatsView(*statsAddr, out)
	}

	cfg := machine.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = machine.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	var prog *loader.Program
	if *elfPath != "" {
		var err error
		if prog, err = loader.Load(*elfPath); err != nil {
			return fmt.Errorf("failed to load program: %w", err)
		}
		if *configPath == "" {
			cfg.Endian = prog.Endian
		}
	}

	m, err := machine.New(cfg, machine.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if prog != nil {
		if err := m.LoadProgram(prog); err != nil {
			return err
		}
	}

	if *tracePath != "" {
		accesses, err := readTrace(*tracePath)
		if err != nil {
			return err
		}

		var echoTo io.Writer
		if *echo {
			echoTo = out
		}
		if err := replay(m, accesses, echoTo); err != nil {
			return err
		}
		log.V(1).Info("trace replayed", "accesses", len(accesses))
	}

	reportCaches(out, m)
	if *mmuStats {
		reportMMU(out, m)
	}

	for _, r := range dumps {
		if err := dumpToFile(m.DataPort(), r); err != nil {
			return err
		}
	}

	if *memvizPath != "" {
		f, err := os.Create(*memvizPath)
		if err != nil {
			return fmt.Errorf("failed to create memviz file: %w", err)
		}
		m.Memory().DumpStructure(f)
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write memviz file: %w", err)
		}
	}

	return nil
}

func readTrace(path string) ([]Access, error) {
	if path == "-" {
		return parseTrace(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parseTrace(f)
}

// launchStatsView serves the Go runtime statistics of the simulator in the
// background.
func launchStatsView(addr string, out io.Writer) {
	viewer.SetConfiguration(viewer.WithAddr(addr))
	go statsview.New().Start()

	fmt.Fprintf(out, "stats server available at %s/debug/statsview\n", addr)
}
