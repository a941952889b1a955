package app

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []Command{CommandServe, CommandWorker, CommandMigrate, CommandSeed, CommandHealthcheck} {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Fatalf("Find(%q): %v", name, err)
		}
		if cmd == root {
			t.Errorf("subcommand %q is not registered", name)
		}
	}
}

func TestRun_MissingEnv_ReturnsError(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "デフォルト（serve）", args: nil},
		{name: "serve", args: []string{"serve"}},
		{name: "worker", args: []string{"worker"}},
		{name: "migrate", args: []string{"migrate"}},
		{name: "seed", args: []string{"seed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORAGE_DRIVER", "postgres")
			t.Setenv("DATABASE_URL", "")
			t.Setenv("JWT_SECRET", "")

			var buf bytes.Buffer
			err := Run(&buf, tt.args)
			if err == nil {
				t.Fatal("Run with missing env should return error")
			}
			if !strings.Contains(err.Error(), "JWT_SECRET") {
				t.Errorf("error should name the missing variable: %v", err)
			}
		})
	}
}

func TestRun_UnknownArguments_ReturnsError(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "未知のサブコマンド", args: []string{"unknown"}},
		{name: "未知のmigrate方向", args: []string{"migrate", "sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Run(&buf, tt.args); err == nil {
				t.Fatalf("Run(%v) should return error", tt.args)
			}
		})
	}
}

func TestRun_MemoryDriverRejectsPostgresOnlyCommands(t *testing.T) {
	for _, name := range []string{"worker", "migrate", "seed"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("STORAGE_DRIVER", "memory")
			t.Setenv("JWT_SECRET", "test-jwt-secret")

			var buf bytes.Buffer
			err := Run(&buf, []string{name})
			if err == nil {
				t.Fatalf("%s should fail with the in-memory driver", name)
			}
			if !strings.Contains(err.Error(), "postgres") {
				t.Errorf("error should mention postgres: %v", err)
			}
		})
	}
}

func TestHealthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "正常", status: http.StatusOK, wantErr: false},
		{name: "異常", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %q, want /health", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			u, err := url.Parse(srv.URL)
			if err != nil {
				t.Fatalf("url.Parse: %v", err)
			}
			_, port, err := net.SplitHostPort(u.Host)
			if err != nil {
				t.Fatalf("SplitHostPort: %v", err)
			}

			err = runHealthcheck(context.Background(), port)
			if (err != nil) != tt.wantErr {
				t.Errorf("runHealthcheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
