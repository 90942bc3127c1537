package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"labelloop/internal/server"
)

func newServerCommand(ctx *commandContext) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Manage a local Label Studio instance",
	}
	serverCmd.AddCommand(newServerStartCommand(ctx))
	return serverCmd
}

func newServerStartCommand(ctx *commandContext) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start Label Studio in the foreground with local file serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			launcher, err := server.New(ctx.configValue(), ctx.loggerValue(), server.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if printOnly {
				binary, cmdArgs, env := launcher.Command()
				out := cmd.OutOrStdout()
				for _, kv := range env {
					fmt.Fprintf(out, "%s ", kv)
				}
				fmt.Fprintf(out, "%s %s\n", binary, strings.Join(cmdArgs, " "))
				return nil
			}
			if err := launcher.Start(cmd.Context()); err != nil {
				if errors.Is(err, server.ErrAlreadyRunning) {
					return fmt.Errorf("label studio is already running for this workspace (lock %s)", launcher.LockPath())
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the launch command instead of running it")
	return cmd
}
