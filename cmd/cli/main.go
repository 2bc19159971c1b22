// Command cli plays one episode of the railway environment from a
// SimulationInput JSON file (or stdin) and writes the SimulationLog to stdout.
//
// Usage:
//
//	cli [-config railenv.yaml] [-log-level debug] [-pretty] [input.json]
//
// Options and loader settings embedded in the input win over the config file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cxd309/tms-railenv/internal/config"
	"github.com/cxd309/tms-railenv/internal/engine"
	"github.com/cxd309/tms-railenv/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config supplying environment options")
	level := flag.String("log-level", "warn", "log level written to stderr")
	pretty := flag.Bool("pretty", false, "indent the output JSON")
	flag.Parse()

	if err := run(flag.Arg(0), *configPath, *level, *pretty, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cli: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath, configPath, level string, pretty bool, w io.Writer) error {
	var (
		data []byte
		err  error
	)
	if inputPath != "" {
		data, err = os.ReadFile(inputPath)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	var input engine.SimulationInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("invalid input JSON: %w", err)
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if input.Options == nil {
			opts := cfg.EngineOptions()
			input.Options = &opts
		}
		if input.Loader == nil {
			input.Loader = &cfg.Loader
		}
	}

	logger, err := logging.New(os.Stderr, level, "text")
	if err != nil {
		return err
	}
	simLog, err := engine.Run(input, logger)
	if err != nil {
		return fmt.Errorf("simulation error: %w", err)
	}
	logger.Info("episode summary", "arrived", simLog.Summary.Arrived, "trains", simLog.Summary.Trains,
		"total_delay", simLog.Summary.TotalDelay, "total_reward", simLog.Summary.TotalReward)

	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(simLog)
}
