package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"labelloop/internal/services/labelstudio"
)

const (
	storageImageRegex  = `.*\.(jpe?g|png|gif)$`
	treatAsSourceField = "treat_every_bucket_object_as_a_source_file"
)

func newStorageCommand(ctx *commandContext) *cobra.Command {
	storageCmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage local-files storages of the project",
	}
	storageCmd.AddCommand(newStorageListCommand(ctx))
	storageCmd.AddCommand(newStorageAddCommand(ctx))
	storageCmd.AddCommand(newStorageSyncCommand(ctx))
	storageCmd.AddCommand(newStorageFixCommand(ctx))
	return storageCmd
}

// storageTarget resolves the project id shared by every storage subcommand.
func storageTarget(ctx *commandContext, override int) (int, *labelstudio.Client, error) {
	cfg := ctx.configValue()
	if err := cfg.RequireAPIKey(); err != nil {
		return 0, nil, err
	}
	projectID, err := cfg.RequireProjectID(override)
	if err != nil {
		return 0, nil, err
	}
	return projectID, ctx.labelStudio(), nil
}

func newStorageListCommand(ctx *commandContext) *cobra.Command {
	var projectID int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local-files storages",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, client, err := storageTarget(ctx, projectID)
			if err != nil {
				return err
			}
			storages, err := client.ListLocalStorages(cmd.Context(), pid)
			if err != nil {
				return fmt.Errorf("list storages: %w", err)
			}
			if asJSON {
				if storages == nil {
					storages = []labelstudio.LocalStorage{}
				}
				return writeJSON(cmd, storages)
			}
			printStorages(cmd.OutOrStdout(), storages)
			return nil
		},
	}
	cmd.Flags().IntVar(&projectID, "project-id", 0, "Project id (defaults to label_studio.project_id)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStorageAddCommand(ctx *commandContext) *cobra.Command {
	var projectID int
	var path string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Attach the image directory as a local-files storage and sync it",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, client, err := storageTarget(ctx, projectID)
			if err != nil {
				return err
			}
			target := strings.TrimSpace(path)
			if target == "" {
				target = ctx.configValue().Paths.ImageDir
			}
			if abs, err := filepath.Abs(target); err == nil {
				target = abs
			}

			out := cmd.OutOrStdout()
			existing, err := client.ListLocalStorages(cmd.Context(), pid)
			if err != nil {
				return fmt.Errorf("list storages: %w", err)
			}
			for _, storage := range existing {
				if filepath.Clean(storage.Path) == filepath.Clean(target) {
					fmt.Fprintf(out, "Storage %d already serves %s\n", storage.ID, target)
					return nil
				}
			}

			storage, err := client.CreateLocalStorage(cmd.Context(), labelstudio.LocalStorageRequest{
				Project:     pid,
				Path:        target,
				Title:       "Images from " + target,
				RegexFilter: storageImageRegex,
				UseBlobURLs: true,
			})
			if err != nil {
				return fmt.Errorf("create storage: %w", err)
			}
			fmt.Fprintf(out, "Created storage %d for %s\n", storage.ID, target)
			return syncStorage(cmd.Context(), out, client, storage.ID)
		},
	}
	cmd.Flags().IntVar(&projectID, "project-id", 0, "Project id (defaults to label_studio.project_id)")
	cmd.Flags().StringVar(&path, "path", "", "Directory to serve (defaults to paths.image_dir)")
	return cmd
}

func newStorageSyncCommand(ctx *commandContext) *cobra.Command {
	var projectID int
	var storageID int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync a local-files storage so new images become tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, client, err := storageTarget(ctx, projectID)
			if err != nil {
				return err
			}
			id := storageID
			if id <= 0 {
				storage, err := firstStorage(cmd.Context(), client, pid)
				if err != nil {
					return err
				}
				id = storage.ID
			}
			return syncStorage(cmd.Context(), cmd.OutOrStdout(), client, id)
		},
	}
	cmd.Flags().IntVar(&projectID, "project-id", 0, "Project id (defaults to label_studio.project_id)")
	cmd.Flags().IntVar(&storageID, "id", 0, "Storage id (defaults to the first storage of the project)")
	return cmd
}

func newStorageFixCommand(ctx *commandContext) *cobra.Command {
	var projectID int

	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Stop treating storage files as task sources, then resync",
		Long: "Storages created with every file treated as a task source import images as\n" +
			"JSON task definitions, which fails. fix clears that flag on the first storage\n" +
			"of the project and syncs it again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, client, err := storageTarget(ctx, projectID)
			if err != nil {
				return err
			}
			storage, err := firstStorage(cmd.Context(), client, pid)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			updated, err := client.UpdateLocalStorage(cmd.Context(), storage.ID, map[string]any{treatAsSourceField: false})
			if err != nil {
				return fmt.Errorf("update storage %d: %w", storage.ID, err)
			}
			fmt.Fprintf(out, "Storage %d: %s = %s\n", updated.ID, treatAsSourceField, treatAsSourceLabel(updated.TreatEveryObjectAsSource))
			return syncStorage(cmd.Context(), out, client, storage.ID)
		},
	}
	cmd.Flags().IntVar(&projectID, "project-id", 0, "Project id (defaults to label_studio.project_id)")
	return cmd
}

func firstStorage(ctx context.Context, client *labelstudio.Client, projectID int) (labelstudio.LocalStorage, error) {
	storages, err := client.ListLocalStorages(ctx, projectID)
	if err != nil {
		return labelstudio.LocalStorage{}, fmt.Errorf("list storages: %w", err)
	}
	if len(storages) == 0 {
		return labelstudio.LocalStorage{}, fmt.Errorf("project %d has no local-files storage (run 'labelloop storage add')", projectID)
	}
	return storages[0], nil
}

func syncStorage(ctx context.Context, out io.Writer, client *labelstudio.Client, storageID int) error {
	synced, err := client.SyncLocalStorage(ctx, storageID)
	if err != nil {
		return fmt.Errorf("sync storage %d: %w", storageID, err)
	}
	status := synced.Status
	if status == "" {
		status = "queued"
	}
	fmt.Fprintf(out, "Sync of storage %d: %s (%d files last sync)\n", storageID, status, synced.LastSyncCount)
	return nil
}

func printStorages(out io.Writer, storages []labelstudio.LocalStorage) {
	if len(storages) == 0 {
		fmt.Fprintln(out, "No local-files storages")
		return
	}
	rows := make([][]string, 0, len(storages))
	for _, storage := range storages {
		lastSync := storage.LastSync
		if lastSync == "" {
			lastSync = "never"
		}
		rows = append(rows, []string{
			itoa(storage.ID),
			storage.Title,
			storage.Path,
			storage.Status,
			lastSync,
			treatAsSourceLabel(storage.TreatEveryObjectAsSource),
		})
	}
	printTable(out, []string{"ID", "Title", "Path", "Status", "Last Sync", "Files As Tasks"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft})
}

func treatAsSourceLabel(value *bool) string {
	if value == nil {
		return "unknown"
	}
	return yesNo(*value)
}
