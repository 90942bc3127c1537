package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"labelloop/internal/config"
	"labelloop/internal/labelconfig"
	"labelloop/internal/services/labelstudio"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage Label Studio projects",
	}
	projectCmd.AddCommand(newProjectCreateCommand(ctx))
	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectDeleteCommand(ctx))
	return projectCmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var title string
	var allowDuplicate bool
	var force bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a labeling project and record its id in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
			title = strings.TrimSpace(title)
			if title == "" {
				title = cfg.LabelStudio.ProjectTitle
			}
			labelConfig, err := labelconfig.Build(cfg.Labels.Names, labelconfig.Options{
				FromName:       cfg.LabelStudio.FromName,
				ToName:         cfg.LabelStudio.ToName,
				ScoreThreshold: cfg.YOLO.ModelScoreThreshold,
			})
			if err != nil {
				return fmt.Errorf("build labeling interface: %w", err)
			}

			client := ctx.labelStudio()
			out := cmd.OutOrStdout()
			if !allowDuplicate {
				existing, err := client.ListProjects(cmd.Context(), title)
				if err != nil {
					return fmt.Errorf("look up existing projects: %w", err)
				}
				if len(existing) > 0 && !force {
					return fmt.Errorf("project %q already exists (ids %s); use --force to replace it or --allow-duplicate to create another",
						title, projectIDs(existing))
				}
				for _, project := range existing {
					if err := client.DeleteProject(cmd.Context(), project.ID); err != nil {
						return fmt.Errorf("delete project %d: %w", project.ID, err)
					}
					fmt.Fprintf(out, "Deleted existing project %d\n", project.ID)
				}
			}

			project, err := client.CreateProject(cmd.Context(), labelstudio.ProjectRequest{
				Title:       title,
				Description: fmt.Sprintf("Bounding boxes for %s", strings.Join(cfg.Labels.Names, ", ")),
				LabelConfig: labelConfig,
			})
			if err != nil {
				return fmt.Errorf("create project: %w", err)
			}
			fmt.Fprintf(out, "Created project %d: %s\n", project.ID, project.Title)
			fmt.Fprintf(out, "URL: %s\n", cfg.ProjectURL(project.ID))

			if err := config.SetProjectID(ctx.configPath, project.ID); err != nil {
				return fmt.Errorf("record project id: %w", err)
			}
			fmt.Fprintf(out, "Recorded project_id = %d in %s\n", project.ID, ctx.configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Project title (defaults to label_studio.project_title)")
	cmd.Flags().BoolVar(&allowDuplicate, "allow-duplicate", false, "Create the project even if one with the same title exists")
	cmd.Flags().BoolVar(&force, "force", false, "Delete existing projects with the same title first")
	cmd.MarkFlagsMutuallyExclusive("allow-duplicate", "force")
	return cmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var title string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects visible to the configured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
			projects, err := ctx.labelStudio().ListProjects(cmd.Context(), title)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if asJSON {
				if projects == nil {
					projects = []labelstudio.Project{}
				}
				return writeJSON(cmd, projects)
			}
			out := cmd.OutOrStdout()
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects found")
				return nil
			}
			rows := make([][]string, 0, len(projects))
			for _, project := range projects {
				marker := ""
				if project.ID == cfg.LabelStudio.ProjectID {
					marker = "*"
				}
				rows = append(rows, []string{
					itoa(project.ID) + marker,
					project.Title,
					itoa(project.TaskNumber),
					itoa(project.NumTasksWithAnnotations),
					cfg.ProjectURL(project.ID),
				})
			}
			printTable(out, []string{"ID", "Title", "Tasks", "Annotated", "URL"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft})
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Only list projects with this exact title")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newProjectDeleteCommand(ctx *commandContext) *cobra.Command {
	var projectID int
	var title string
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project and all of its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if err := cfg.RequireAPIKey(); err != nil {
				return err
			}
			client := ctx.labelStudio()

			var project labelstudio.Project
			switch {
			case projectID > 0:
				found, err := client.GetProject(cmd.Context(), projectID)
				if err != nil {
					return fmt.Errorf("get project %d: %w", projectID, err)
				}
				project = found
			case strings.TrimSpace(title) != "":
				matches, err := client.ListProjects(cmd.Context(), title)
				if err != nil {
					return fmt.Errorf("look up project: %w", err)
				}
				switch len(matches) {
				case 0:
					return fmt.Errorf("no project titled %q", title)
				case 1:
					project = matches[0]
				default:
					return fmt.Errorf("title %q matches several projects (ids %s); use --id", title, projectIDs(matches))
				}
			default:
				return fmt.Errorf("--id or --title is required")
			}

			out := cmd.OutOrStdout()
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out,
					fmt.Sprintf("Delete project %d (%s) with %d tasks? Type 'yes' to confirm: ", project.ID, project.Title, project.TaskNumber))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Aborted")
					return nil
				}
			}
			if err := client.DeleteProject(cmd.Context(), project.ID); err != nil {
				return fmt.Errorf("delete project %d: %w", project.ID, err)
			}
			fmt.Fprintf(out, "Deleted project %d\n", project.ID)
			if project.ID == cfg.LabelStudio.ProjectID {
				fmt.Fprintln(out, "Note: label_studio.project_id still points at the deleted project")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&projectID, "id", 0, "Project id")
	cmd.Flags().StringVar(&title, "title", "", "Project title")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.MarkFlagsMutuallyExclusive("id", "title")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
}

func projectIDs(projects []labelstudio.Project) string {
	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, itoa(project.ID))
	}
	return strings.Join(ids, ", ")
}
