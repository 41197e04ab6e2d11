package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newProbeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run a single probe round and print every dependency status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			c, err := build(cfg, logger)
			if err != nil {
				return err
			}

			c.scheduler.Tick(cmd.Context())
			return writeJSON(cmd.OutOrStdout(), c.store.Snapshot())
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
