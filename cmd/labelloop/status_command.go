package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"labelloop/internal/deps"
	"labelloop/internal/preflight"
)

type statusReport struct {
	ConfigPath   string             `json:"config_path"`
	ProjectID    int                `json:"project_id"`
	Dependencies []dependencyReport `json:"dependencies"`
	Checks       []preflight.Result `json:"checks"`
	Ready        bool               `json:"ready"`
}

type dependencyReport struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Path      string `json:"path,omitempty"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check Label Studio, directories, and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			depStatus := preflight.CheckSystemDeps(cfg)
			checks := preflight.RunAll(cmd.Context(), cfg)

			report := statusReport{
				ConfigPath: ctx.configPath,
				ProjectID:  cfg.LabelStudio.ProjectID,
				Checks:     checks,
				Ready:      len(preflight.Failed(checks)) == 0 && requiredDepsAvailable(depStatus),
			}
			for _, dep := range depStatus {
				report.Dependencies = append(report.Dependencies, dependencyReport{
					Name:      dep.Name,
					Command:   dep.Command,
					Path:      dep.Path,
					Optional:  dep.Optional,
					Available: dep.Available,
					Detail:    dep.Detail,
				})
			}

			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printStatus(cmd.OutOrStdout(), report, depStatus, shouldColorize(cmd.OutOrStdout()))
			}
			if !report.Ready {
				return fmt.Errorf("labelloop is not ready")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printStatus(out io.Writer, report statusReport, depStatus []deps.Status, colorize bool) {
	for _, line := range renderSection("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range dependencyStatusLines(depStatus, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	for _, line := range renderSection("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, result := range report.Checks {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
	if report.ProjectID <= 0 {
		fmt.Fprintln(out, renderStatusLine("Project", statusWarn, "project_id not set (run 'labelloop project create')", colorize))
	}
}

func dependencyStatusLines(status []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(status))
	for _, dep := range status {
		if dep.Available {
			lines = append(lines, renderStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (command: %s)", dep.Command), colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
			detail += " (optional)"
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func requiredDepsAvailable(status []deps.Status) bool {
	for _, dep := range status {
		if !dep.Available && !dep.Optional {
			return false
		}
	}
	return true
}
