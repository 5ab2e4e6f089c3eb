package cmdrunner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wtmux/wtmux/internal/wmerr"
)

func TestRunCapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), "", "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	res, err := Run(context.Background(), "", "sh", "-c", "exit 7")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", res.ExitCode)
	}
}

func TestCheckRunWrapsNonZeroExit(t *testing.T) {
	_, err := CheckRun(context.Background(), "", "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("expected error")
	}
	var cmdErr *wmerr.ExternalCommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *wmerr.ExternalCommandError, got %T", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Stderr, "boom") {
		t.Errorf("stderr = %q, want to contain boom", cmdErr.Stderr)
	}
}

func TestStreamPumpsBothChannels(t *testing.T) {
	var stdout, stderr bytes.Buffer
	res, err := Stream(context.Background(), "", &stdout, &stderr, nil,
		"sh", "-c", "echo one; echo two >&2")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(stdout.String()) != "one" {
		t.Errorf("stdout = %q", stdout.String())
	}
	if strings.TrimSpace(stderr.String()) != "two" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestStreamReportsExitCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	res, err := Stream(context.Background(), "", &stdout, &stderr, nil, "sh", "-c", "exit 5")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if res.ExitCode != 5 {
		t.Errorf("exit code = %d, want 5", res.ExitCode)
	}
}
