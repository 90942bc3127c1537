package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"labelloop/internal/services"
	"labelloop/internal/testsupport"
)

type stubExecutor struct {
	binary string
	args   []string
	env    []string
	err    error
	during func()
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args, env []string, _, _ io.Writer) error {
	s.binary = binary
	s.args = args
	s.env = env
	if s.during != nil {
		s.during()
	}
	return s.err
}

func TestCommandIncludesCredentialsAndEnvironment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.LabelStudio.URL = "http://localhost:8081"
	launcher, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	binary, args, env := launcher.Command()
	if binary != "label-studio" {
		t.Fatalf("unexpected binary %q", binary)
	}
	want := []string{"start", "--port", "8081", "--username", cfg.Server.Username, "--password", cfg.Server.Password, "--data-dir", cfg.Server.DataDir}
	if !slices.Equal(args, want) {
		t.Fatalf("unexpected args %v, want %v", args, want)
	}
	if !slices.Contains(env, "LABEL_STUDIO_LOCAL_FILES_SERVING_ENABLED=true") {
		t.Fatalf("missing serving flag in %v", env)
	}
	if !slices.Contains(env, "LABEL_STUDIO_LOCAL_FILES_DOCUMENT_ROOT="+cfg.Server.DocumentRoot) {
		t.Fatalf("missing document root in %v", env)
	}
}

func TestCommandWithoutLocalFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.LocalFilesServing = false
	cfg.LabelStudio.URL = "http://localhost"
	launcher, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	_, args, env := launcher.Command()
	if len(env) != 0 {
		t.Fatalf("expected no extra environment, got %v", env)
	}
	if slices.Contains(args, "--port") {
		t.Fatalf("expected no port without one in the url, got %v", args)
	}
}

func TestStartHoldsWorkspaceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var secondErr error
	stub := &stubExecutor{}
	stub.during = func() {
		other, err := New(cfg, nil, WithExecutor(&stubExecutor{}))
		if err != nil {
			secondErr = err
			return
		}
		secondErr = other.Start(context.Background())
	}
	launcher, err := New(cfg, nil, WithExecutor(stub))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := launcher.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !errors.Is(secondErr, ErrAlreadyRunning) {
		t.Fatalf("expected second launch to be refused, got %v", secondErr)
	}
	if _, err := os.Stat(cfg.Server.DataDir); err != nil {
		t.Fatalf("expected data dir to be created: %v", err)
	}

	// The lock is released once the server exits.
	again, _ := New(cfg, nil, WithExecutor(&stubExecutor{}))
	if err := again.Start(context.Background()); err != nil {
		t.Fatalf("expected relaunch after exit, got %v", err)
	}
}

func TestStartRequiresDocumentRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.DocumentRoot = filepath.Join(t.TempDir(), "missing")
	stub := &stubExecutor{}
	launcher, _ := New(cfg, nil, WithExecutor(stub))

	err := launcher.Start(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if stub.binary != "" {
		t.Fatal("server should not be launched")
	}
}

func TestStartReportsMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stub := &stubExecutor{err: &exec.Error{Name: "label-studio", Err: exec.ErrNotFound}}
	launcher, _ := New(cfg, nil, WithExecutor(stub))

	if err := launcher.Start(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStartTreatsCancellationAsStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubExecutor{err: errors.New("signal: interrupt"), during: cancel}
	launcher, _ := New(cfg, nil, WithExecutor(stub))

	if err := launcher.Start(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestStartToolFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	launcher, _ := New(cfg, nil, WithExecutor(&stubExecutor{err: errors.New("exit status 1")}))
	if err := launcher.Start(context.Background()); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
