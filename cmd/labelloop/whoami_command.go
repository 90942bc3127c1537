package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoAmICommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the Label Studio user the configured token belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
			user, err := ctx.labelStudio().WhoAmI(cmd.Context())
			if err != nil {
				return fmt.Errorf("whoami: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Authenticated as %s (id %d)\n", user.DisplayName(), user.ID)
			fmt.Fprintf(out, "Server: %s\n", cfg.LabelStudio.URL)
			return nil
		},
	}
}
