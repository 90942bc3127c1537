package main

import (
	"reflect"
	"testing"
)

func TestStorageAddCreatesAndSyncs(t *testing.T) {
	env := setupCLITestEnv(t, 7)

	out, _, err := runCLI(t, []string{"storage", "add"}, env.configPath)
	if err != nil {
		t.Fatalf("storage add: %v", err)
	}
	requireContains(t, out, "Created storage 1")
	requireContains(t, out, "Sync of storage 1: completed")

	storage := env.studio.storages[0]
	if storage.Path != env.cfg.Paths.ImageDir || storage.Project != 7 || !storage.UseBlobURLs {
		t.Fatalf("unexpected storage %+v", storage)
	}
	if storage.RegexFilter != storageImageRegex {
		t.Fatalf("unexpected regex %q", storage.RegexFilter)
	}

	out, _, err = runCLI(t, []string{"storage", "add"}, env.configPath)
	if err != nil {
		t.Fatalf("second storage add: %v", err)
	}
	requireContains(t, out, "already serves")
	if len(env.studio.storages) != 1 {
		t.Fatalf("expected a single storage, got %d", len(env.studio.storages))
	}
}

func TestStorageFixClearsSourceFlag(t *testing.T) {
	env := setupCLITestEnv(t, 7)
	if _, _, err := runCLI(t, []string{"storage", "add"}, env.configPath); err != nil {
		t.Fatalf("storage add: %v", err)
	}

	out, _, err := runCLI(t, []string{"storage", "fix"}, env.configPath)
	if err != nil {
		t.Fatalf("storage fix: %v", err)
	}
	requireContains(t, out, treatAsSourceField+" = no")
	if len(env.studio.patches) != 1 || env.studio.patches[0][treatAsSourceField] != false {
		t.Fatalf("unexpected patches %v", env.studio.patches)
	}
	if !reflect.DeepEqual(env.studio.synced, []int{1, 1}) {
		t.Fatalf("expected a resync after fix, got %v", env.studio.synced)
	}

	out, _, err = runCLI(t, []string{"storage", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("storage list: %v", err)
	}
	requireContains(t, out, "Images from")
	requireContains(t, out, "Files As Tasks")
}

func TestStorageSyncWithoutStorageFails(t *testing.T) {
	env := setupCLITestEnv(t, 7)
	if _, _, err := runCLI(t, []string{"storage", "sync"}, env.configPath); err == nil {
		t.Fatal("expected error when the project has no storage")
	}
}

func TestStorageRequiresProject(t *testing.T) {
	env := setupCLITestEnv(t, 0)
	if _, _, err := runCLI(t, []string{"storage", "list"}, env.configPath); err == nil {
		t.Fatal("expected error without a project id")
	}
}
