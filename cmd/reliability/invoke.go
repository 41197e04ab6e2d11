package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elder-voice/reliability/internal/action"
)

func newInvokeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <action> [key=value...]",
		Short: "Invoke a remote action with retries",
		Long: "Invoke one of the remote actions (" + strings.Join(action.Actions(), ", ") + ").\n" +
			"Parameters are passed as key=value pairs; contacts are comma separated.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			c, err := build(cfg, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			res, err := c.invoker.Invoke(ctx, args[0], params)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}
		params[strings.TrimSpace(k)] = v
	}
	return params, nil
}
