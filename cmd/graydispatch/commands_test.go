package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// execute runs the CLI with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file="}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func minimalConfig(t *testing.T) (path, dbPath string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "dispatch.db")
	path = writeConfig(t, `
site:
  id: cli-site
database:
  path: "`+dbPath+`"
mqtt:
  enabled: false
metrics:
  enabled: false
`)
	return path, dbPath
}

func TestCheckCommand(t *testing.T) {
	path, _ := minimalConfig(t)

	out, err := execute(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	for _, want := range []string{"cli-site", "item (preemption queue)", "mqtt", "false"} {
		if !strings.Contains(out, want) {
			t.Errorf("check output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "site:\n  id: \"\"\n")

	if _, err := execute(t, "check", "-c", path); err == nil || !strings.Contains(err.Error(), "site.id is required") {
		t.Errorf("check error = %v, want site.id validation failure", err)
	}
}

func TestMigrateCommands(t *testing.T) {
	path, dbPath := minimalConfig(t)

	out, err := execute(t, "migrate", "status", "-c", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "pending") || strings.Contains(out, "applied") {
		t.Errorf("fresh status = %q, want only pending", out)
	}

	out, err = execute(t, "migrate", "-c", path)
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, "applied 1 migration(s) to "+dbPath) {
		t.Errorf("migrate output = %q", out)
	}

	out, err = execute(t, "migrate", "status", "-c", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "applied") || strings.Contains(out, "pending") {
		t.Errorf("status after migrate = %q", out)
	}

	if _, err := execute(t, "migrate", "down", "-c", path); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	out, _ = execute(t, "migrate", "status", "-c", path)
	if !strings.Contains(out, "pending") {
		t.Errorf("status after down = %q, want pending", out)
	}
}

func TestEnvFile(t *testing.T) {
	path, _ := minimalConfig(t)

	envFile := filepath.Join(t.TempDir(), "dispatch.env")
	body := "GRAYDISPATCH_CONFIG=" + path + "\nGRAYDISPATCH_SITE_ID=from-env-file\n"
	if err := os.WriteFile(envFile, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	// godotenv never overrides a variable that exists, even empty.
	for _, k := range []string{"GRAYDISPATCH_CONFIG", "GRAYDISPATCH_SITE_ID"} {
		t.Setenv(k, "")
		os.Unsetenv(k) //nolint:errcheck // restored by t.Setenv cleanup
	}

	out, err := execute(t, "check", "--env-file", envFile)
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	if !strings.Contains(out, "from-env-file") || !strings.Contains(out, path) {
		t.Errorf("env file not applied:\n%s", out)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("loadDotEnv(missing) error = %v", err)
	}
	if err := loadDotEnv(""); err != nil {
		t.Errorf("loadDotEnv(\"\") error = %v", err)
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("--version error = %v", err)
	}
	if !strings.Contains(out, version) || !strings.Contains(out, commit) {
		t.Errorf("version output = %q", out)
	}
}
