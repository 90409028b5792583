package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/apiprobe/internal/config"
)

const progressInterval = time.Second

// failedJobsError reports a completed run with failing or skipped jobs.
type failedJobsError struct {
	failed, skipped int
}

func (e *failedJobsError) Error() string {
	if e.skipped > 0 {
		return fmt.Sprintf("%d jobs failed, %d skipped", e.failed, e.skipped)
	}
	return fmt.Sprintf("%d jobs failed", e.failed)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	cancel()
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "apiprobe",
		Short:         "Run declarative API test definitions against HTTP and WebSocket services",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(newRunCommand(stdout, stderr), newValidateCommand(stdout))
	return root
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run [flags] [definition files or directories]",
		Short: "Execute every endpoint and scenario of the given definitions",
		// Flags are parsed by the settings loader so that --help and a bare
		// invocation print the loader's usage.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.NewLoader().Load(args)
			if err != nil {
				return err
			}
			if err := settings.Validate(); err != nil {
				return err
			}
			return runSuites(cmd.Context(), settings, stdout, stderr)
		},
	}
}

func newValidateCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [definition files or directories]",
		Short: "Check definition files without sending any request",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.NewLoader().FromFlags(cmd.Flags(), args)
			if err != nil {
				return err
			}
			if len(settings.Definitions) == 0 {
				return errors.New("no definition files given")
			}
			defs, err := config.LoadDefinitions(settings.Definitions)
			if err != nil {
				return err
			}
			invalid := 0
			for _, def := range defs {
				if err := def.Validate(); err != nil {
					invalid++
					fmt.Fprintf(stdout, "INVALID %s: %v\n", def.Source, err)
					continue
				}
				fmt.Fprintf(stdout, "OK      %s: %s (%d http, %d websocket, %d scenarios)\n",
					def.Source, def.Name, len(def.HTTPEndpoints), len(def.WSSEndpoints), len(def.Scenarios))
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d definitions are invalid", invalid, len(defs))
			}
			return nil
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}
