package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/healer/internal/shell/healer"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var sErr *ServerError
		if errors.As(err, &sErr) {
			return sErr.ExitCode
		}
		return ExitConfigError
	}
	return ExitSuccess
}

// =============================================================================
// Commands
// =============================================================================

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "healer",
		Short:         "Detects faults on a host and heals them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newCheckCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the healing loop and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return &ServerError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
			}

			logger := SetupLogger(cfg)
			logger.Info("starting healer",
				"version", Version,
				"config", *configPath,
			)

			server, err := NewServer(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to create server", "error", err)
				return err
			}
			if err := server.Run(cmd.Context()); err != nil {
				logger.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
}

func newCheckCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Detect faults once and print what would be done, without acting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return &ServerError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
			}
			// Dry run: no archive writes, no webhook.
			cfg.Archive.Enabled = false
			cfg.Notify.URL = ""

			logger := SetupLogger(cfg)
			c, err := buildComponents(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer c.close(logger)

			previews, err := c.healer.Preview(cmd.Context())
			if err != nil {
				logger.Warn("some fault sources failed", "error", err)
			}
			if asJSON {
				return writePreviewsJSON(cmd.OutOrStdout(), previews)
			}
			return writePreviews(cmd.OutOrStdout(), previews)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "healer %s (built %s)\n", Version, BuildTime)
		},
	}
}

// =============================================================================
// Output
// =============================================================================

func writePreviews(w io.Writer, previews []healer.Preview) error {
	if len(previews) == 0 {
		_, err := fmt.Fprintln(w, "no faults detected")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tTYPE\tSEVERITY\tSERVICE\tROOT CAUSE\tCONFIDENCE\tACTION")
	for _, p := range previews {
		action := "-"
		if len(p.CandidateActions) > 0 {
			action = p.CandidateActions[0].String()
		}
		service := p.Fault.Service
		if service == "" {
			service = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			p.Fault.Signature(),
			p.Fault.Type,
			p.Fault.Severity,
			service,
			p.Analysis.RootCause,
			p.Analysis.Confidence,
			action,
		)
	}
	return tw.Flush()
}

func writePreviewsJSON(w io.Writer, previews []healer.Preview) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(previews)
}
