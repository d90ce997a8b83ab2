// Package cmd implements the evtelemetry command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kilianp07/evtelemetry/app"
	"github.com/kilianp07/evtelemetry/config"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/profile"
	"github.com/kilianp07/evtelemetry/core/sink"
	"github.com/kilianp07/evtelemetry/infra/logger"
	"github.com/kilianp07/evtelemetry/infra/serial"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitConfig = 2
)

// flagKeys maps generator flags to configuration keys.
var flagKeys = map[string]string{
	"mission-profile": config.KeyProfile,
	"rate":            config.KeyRate,
	"duration":        config.KeyDuration,
	"seed":            config.KeySeed,
	"output":          config.KeyOutput,
	"port":            config.KeyPort,
	"baud":            config.KeyBaud,
	"metrics-listen":  config.KeyMetricsListen,
	"log-file":        config.KeyLogPath,
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "evtelemetry",
		Short: "Synthetic EV telemetry generator",
		Long: "evtelemetry simulates an electric vehicle driving a mission profile and streams\n" +
			"protobuf encoded APPS, BMS and inverter packets to a serial port or another output.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return model.NewConfigurationError("arguments", "%v", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")

	f := root.Flags()
	f.StringP("port", "p", "", "serial port of the telemetry radio")
	f.StringP("mission-profile", "m", profile.Get(profile.City).Name,
		"mission profile ("+strings.Join(profile.Names(), ", ")+")")
	f.IntP("baud", "b", serial.DefaultBaud, "serial baud rate")
	f.Float64P("rate", "r", 10, "packets per second, shared by the three record types")
	f.Float64P("duration", "d", 0, "run time in seconds, 0 runs until interrupted")
	f.Uint64("seed", 0, "noise seed, 0 derives one from the clock")
	f.String("output", "serial", "output type ("+strings.Join(sink.Types(), ", ")+")")
	f.String("log-file", logger.DefaultPath, "log file")
	f.BoolP("verbose", "v", false, "debug logging")
	f.String("metrics-listen", "", "serve Prometheus metrics on this address")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return model.NewConfigurationError("flags", "%v", err)
	})
	root.AddCommand(newPortsCmd(), newProfilesCmd(), newConfigCmd(&cfgPath))
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := NewRootCmd().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "evtelemetry:", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error returned by the CLI to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, model.ErrConfiguration):
		return ExitConfig
	default:
		return ExitFatal
	}
}

// overrides collects the flags set on the command line.
func overrides(fs *pflag.FlagSet) map[string]any {
	out := map[string]any{}
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			out[key] = f.Value.String()
		}
	})
	if v, err := fs.GetBool("verbose"); err == nil && v {
		out[config.KeyLogLevel] = "debug"
	}
	return out
}

func run(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.Load(cfgPath, overrides(cmd.Flags()))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	runErr := svc.Run(ctx)
	if err := svc.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil {
		st := svc.Engine().Stats()
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d packets, %.2f km, %.3f kWh\n",
			st.State, st.PacketsSent, st.OdometerKm, st.EnergyKWh)
	}
	return runErr
}
