// Command invopipe runs the invoice pipeline from the command line: it
// starts workflows for invoice documents, inspects checkpoints, and resumes
// paused workflows with reviewer decisions.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "invopipe",
		Short:         "Durable invoice processing pipeline",
		Long:          "invopipe drives invoice documents through a checkpointed stage pipeline:\nreceive, parse, confidence_patch, validate, triage, export.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	app := &appContext{}
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		app.cfg = cfg

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		app.slog = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return nil
	}

	root.AddCommand(
		newRunCmd(app),
		newInspectCmd(app),
		newResumeCmd(app),
		newSchemaCmd(),
	)
	return root
}

// appContext carries everything commands share after flag parsing.
type appContext struct {
	cfg  *config
	slog *slog.Logger
}
