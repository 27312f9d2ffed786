// nv2atrace traces nv2a vertex shader execution and explains, per
// instruction, which earlier instructions produced its inputs.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nv2atrace"
	"nv2atrace/assembler"
	"nv2atrace/program"
	"nv2atrace/tui"
)

// config is the optional YAML config file: default paths merged under
// explicit flags.
type config struct {
	Source    string `yaml:"source"`
	Inputs    string `yaml:"inputs"`
	Mesh      string `yaml:"mesh"`
	Constants string `yaml:"constants"`
}

type options struct {
	inputs     string
	mesh       string
	constants  string
	configPath string
	emitInputs bool
	jsonOut    bool
	simulate   bool
	verbose    bool
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "nv2atrace [flags] <source.vsh>",
		Short: "Trace nv2a vertex shader execution with dataflow ancestry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.inputs, "inputs", "i", "", "JSON file with the initial register state")
	flags.StringVar(&opts.mesh, "renderdoc-mesh", "", "RenderDoc mesh CSV feeding the input registers")
	flags.StringVar(&opts.constants, "renderdoc-constants", "", "RenderDoc constants CSV feeding the constant registers")
	flags.StringVar(&opts.configPath, "config", "", "YAML config file with default paths")
	flags.BoolVar(&opts.emitInputs, "emit-inputs", false, "print a JSON template of the program's initial inputs and exit")
	flags.BoolVarP(&opts.jsonOut, "json", "j", false, "print the full trace as JSON and exit")
	flags.BoolVarP(&opts.simulate, "simulate", "s", false, "run every mesh vertex and print per-vertex results as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(dumpCommand())
	return cmd
}

func run(cmd *cobra.Command, args []string, opts options) error {
	setupLogging(opts.verbose)

	source := ""
	if len(args) > 0 {
		source = args[0]
	}

	if opts.configPath != "" {
		cfg, err := loadConfig(opts.configPath)
		if err != nil {
			return err
		}
		if source == "" {
			source = cfg.Source
		}
		if opts.inputs == "" {
			opts.inputs = cfg.Inputs
		}
		if opts.mesh == "" {
			opts.mesh = cfg.Mesh
		}
		if opts.constants == "" {
			opts.constants = cfg.Constants
		}
	}
	if source == "" {
		return fmt.Errorf("no shader source given (positional argument or config file)")
	}

	prog, err := program.Load(source, opts.inputs, opts.mesh, opts.constants)
	if err != nil {
		return err
	}

	switch {
	case opts.emitInputs:
		return printJSON(cmd, prog.Trace().InputContext().ToState(true))
	case opts.jsonOut:
		return printJSON(cmd, prog.Trace().Doc())
	case opts.simulate:
		results, err := prog.SimulateAllVertices()
		if err != nil {
			return err
		}
		return printJSON(cmd, results)
	}
	return tui.Run(prog)
}

func dumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <source.vsh>",
		Short: "Assemble a shader and dump its tokens and decoded instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			source, err := program.SanitizeSource(string(data))
			if err != nil {
				return err
			}

			tokens, errs := assembler.Assemble(source)
			if len(errs) > 0 {
				return errs
			}

			printer := pp.New()
			printer.SetOutput(cmd.OutOrStdout())
			for i, token := range tokens {
				ins, err := nv2atrace.Decode(token)
				if err != nil {
					return fmt.Errorf("instruction %d: %w", i, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%3d: 0x%08X 0x%08X 0x%08X 0x%08X  %s\n",
					i, token[0], token[1], token[2], token[3], ins.Source())
				printer.Println(ins)
			}
			return nil
		},
		SilenceUsage: true,
	}
}

func loadConfig(path string) (config, error) {
	var cfg config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func printJSON(cmd *cobra.Command, val any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
