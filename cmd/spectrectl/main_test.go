package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/spectre/internal/config"
	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/participant"
	"github.com/danmuck/spectre/internal/testutil/testlog"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDemoReplicatesAndReleases(t *testing.T) {
	testlog.Start(t)
	out, err := runCLI(t, "demo", "--size", "3")
	if err != nil {
		t.Fatalf("demo: %v\n%s", err, out)
	}
	for _, want := range []string{"create:", "set:", "refs:", "release:", "shares=[4 3 3]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("demo output missing %q:\n%s", want, out)
		}
	}
}

func TestDemoSingleParticipant(t *testing.T) {
	testlog.Start(t)
	if out, err := runCLI(t, "demo", "--size", "1"); err != nil {
		t.Fatalf("demo: %v\n%s", err, out)
	}
	_, err := runCLI(t, "demo", "--size", "0")
	if exitCode(err) != exitUsage {
		t.Fatalf("expected usage exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestConfigInitWritesLoadableFiles(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	if out, err := runCLI(t, "config", "init", "--dir", dir); err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := config.LoadHeadConfig(filepath.Join(dir, "head.toml")); err != nil {
		t.Fatalf("head.toml: %v", err)
	}
	if _, err := config.LoadParticipantConfig(filepath.Join(dir, "participant.toml")); err != nil {
		t.Fatalf("participant.toml: %v", err)
	}
	if _, err := config.LoadScript(filepath.Join(dir, "script.toml")); err != nil {
		t.Fatalf("script.toml: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--dir", dir, "head"); err == nil {
		t.Fatalf("expected refusal without --force")
	}
	if _, err := runCLI(t, "config", "init", "--dir", dir, "--force", "head"); err != nil {
		t.Fatalf("force overwrite: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--dir", dir, "scheduler"); err == nil {
		t.Fatalf("expected invalid kind error")
	}
}

func TestHeadRejectsMissingConfig(t *testing.T) {
	testlog.Start(t)
	missing := filepath.Join(t.TempDir(), "nope.toml")
	if _, err := os.Stat(missing); err == nil {
		t.Fatalf("unexpected file")
	}
	_, err := runCLI(t, "head", "--config", missing)
	if exitCode(err) != exitUsage {
		t.Fatalf("expected usage exit code, got %d (%v)", exitCode(err), err)
	}
}

func TestExitCodes(t *testing.T) {
	if exitCode(errors.New("boom")) != exitFailure {
		t.Fatalf("plain errors exit 1")
	}
	if exitCode(participant.ErrAborted) != exitAborted {
		t.Fatalf("aborted participants exit %d", exitAborted)
	}
	if exitCode(fmt.Errorf("serve: %w", participant.ErrSequenceGap)) != exitAborted {
		t.Fatalf("a missed call exits %d", exitAborted)
	}
	if exitCode(&dispatch.FatalError{Reason: "outcomes differ"}) != exitAborted {
		t.Fatalf("divergence exits %d", exitAborted)
	}
}
