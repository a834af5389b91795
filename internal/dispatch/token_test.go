package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeGH installs a gh stub on PATH that runs script.
func fakeGH(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses a shell script gh stub")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gh"), []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile gh stub failed: %v", err)
	}
	t.Setenv("PATH", dir)
}

func TestResolveToken(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		env      string
		gh       string // gh stub script; empty means gh is not installed
		want     string
		wantSrc  TokenSource
		wantErr  bool
	}{
		{name: "explicit wins", provided: " explicit ", env: "env-token", want: "explicit", wantSrc: TokenSourceExplicit},
		{name: "env used", env: "env-token", want: "env-token", wantSrc: TokenSourceEnv},
		{name: "gh used when env empty", gh: "echo gh-token", want: "gh-token", wantSrc: TokenSourceGitHubCL},
		{name: "gh not logged in", gh: "exit 1"},
		{name: "neither env nor gh"},
		{name: "gh returns garbage", gh: `printf 'line1\nline2\n'`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GITHUB_TOKEN", tt.env)
			if tt.gh != "" {
				fakeGH(t, tt.gh)
			} else {
				t.Setenv("PATH", t.TempDir())
			}

			tok, src, err := ResolveToken(context.Background(), tt.provided)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveToken err=%v wantErr=%v", err, tt.wantErr)
			}
			if tok != tt.want || src != tt.wantSrc {
				t.Fatalf("ResolveToken = %q, %q; want %q, %q", tok, src, tt.want, tt.wantSrc)
			}
		})
	}
}

func TestResolveToken_CanceledContext(t *testing.T) {
	fakeGH(t, "echo gh-token")
	t.Setenv("GITHUB_TOKEN", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ResolveToken(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
