package ux

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

func TestNewErrorWithSuggestion(t *testing.T) {
	if NewErrorWithSuggestion(nil, "x") != nil {
		t.Error("nil error should stay nil")
	}

	base := stderrors.New("something failed")
	err := NewErrorWithSuggestion(base, "try this fix")
	if !strings.Contains(err.Error(), "something failed") || !strings.Contains(err.Error(), "try this fix") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !stderrors.Is(err, base) {
		t.Error("suggestion wrapper should unwrap to the original error")
	}

	plain := NewErrorWithSuggestion(base, "")
	if plain.Error() != "something failed" {
		t.Errorf("empty suggestion should not decorate, got %q", plain.Error())
	}
}

func TestEnhanceError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantSuggestion string
	}{
		{
			name:           "missing config",
			err:            stderrors.New("open .devflow/devflow.yaml: no such file or directory"),
			wantSuggestion: "devflow init",
		},
		{
			name:           "missing file",
			err:            stderrors.New("open plans/x.yaml: no such file or directory"),
			wantSuggestion: "--plans-dir",
		},
		{
			name:           "agent binary",
			err:            stderrors.New(`exec: "claude": executable file not found in $PATH`),
			wantSuggestion: "agent.command",
		},
		{
			name:           "sqlite busy",
			err:            stderrors.New("database is locked (5) (SQLITE_BUSY)"),
			wantSuggestion: "status database",
		},
		{
			name:           "permission",
			err:            stderrors.New("open status: permission denied"),
			wantSuggestion: "permissions",
		},
		{
			name:           "collector down",
			err:            stderrors.New("dial tcp 127.0.0.1:4318: connection refused"),
			wantSuggestion: "telemetry.endpoint",
		},
		{
			name:           "metrics port taken",
			err:            stderrors.New("listen tcp :9090: bind: address already in use"),
			wantSuggestion: "--metrics-addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnhanceError(tt.err)
			if !strings.Contains(got.Error(), tt.wantSuggestion) {
				t.Errorf("EnhanceError() = %q, want suggestion containing %q", got.Error(), tt.wantSuggestion)
			}
		})
	}
}

func TestEnhanceErrorPassThrough(t *testing.T) {
	if EnhanceError(nil) != nil {
		t.Error("nil should pass through")
	}

	coded := fmt.Errorf("loading: %w", errors.NewPlanNotFoundError("roadmap"))
	if EnhanceError(coded) != coded {
		t.Error("coded errors carry their own suggestions and should pass through")
	}

	unknown := stderrors.New("something odd")
	if EnhanceError(unknown) != unknown {
		t.Error("unrecognized errors should pass through")
	}
}

func TestFormatError(t *testing.T) {
	if FormatError(nil, "ctx") != nil {
		t.Error("nil should pass through")
	}

	base := stderrors.New("boom")
	err := FormatError(base, "running plan")
	if !strings.HasPrefix(err.Error(), "running plan: boom") {
		t.Errorf("FormatError() = %q", err.Error())
	}
	if !stderrors.Is(err, base) {
		t.Error("FormatError should wrap the original error")
	}
}
