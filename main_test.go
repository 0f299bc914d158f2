package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/otherjamesbrown/vidlens/cmd"
	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/buildinfo"
)

func TestVersionCommand(t *testing.T) {
	c := newVersionCmd()

	if c.Use != "version" {
		t.Errorf("Unexpected Use: %s", c.Use)
	}
	if c.Short != "Print version information" {
		t.Errorf("Unexpected Short: %s", c.Short)
	}
	if c.Flags().Lookup("output") == nil {
		t.Error("--output flag not found on version command")
	}
}

func TestVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	c := newVersionCmd()
	c.SetOut(&buf)
	c.SetArgs(nil)
	if err := c.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "vidlens "+buildinfo.Version) {
		t.Errorf("Unexpected first line: %q", out)
	}
	if !strings.Contains(out, "Platform:") {
		t.Errorf("Platform missing from output: %q", out)
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	c := newVersionCmd()
	c.SetOut(&buf)
	c.SetArgs([]string{"-o", "json"})
	if err := c.Execute(); err != nil {
		t.Fatalf("version -o json failed: %v", err)
	}

	var info buildinfo.Info
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, buf.String())
	}
	if info.Version != buildinfo.Version {
		t.Errorf("Version = %q, want %q", info.Version, buildinfo.Version)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
}

func TestVersionInvalidFormat(t *testing.T) {
	c := newVersionCmd()
	c.SetOut(&bytes.Buffer{})
	c.SetErr(&bytes.Buffer{})
	c.SetArgs([]string{"-o", "xml"})
	if err := c.Execute(); err == nil {
		t.Error("Expected an error for -o xml")
	}
}

func TestRootCommand(t *testing.T) {
	root, closeLog := newRootCmd(&cmd.CommandDeps{Config: config.DefaultConfig()})
	defer closeLog()

	want := map[string]string{
		"analyze": "video",
		"chat":    "video",
		"cache":   "video",
		"auth":    "setup",
		"config":  "setup",
		"version": "setup",
	}
	for name, group := range want {
		c, _, err := root.Find([]string{name})
		if err != nil || c == root {
			t.Errorf("subcommand %q not found", name)
			continue
		}
		if c.GroupID != group {
			t.Errorf("%s: GroupID = %q, want %q", name, c.GroupID, group)
		}
	}

	for _, name := range []string{"config-dir", "base-dir", "timeout", "debug", "log-json"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s flag not found on root command", name)
		}
	}
}

func TestRootCommand_AppliesFlagOverrides(t *testing.T) {
	t.Setenv("VIDLENS_CONFIG_DIR", t.TempDir())
	deps := &cmd.CommandDeps{Config: config.DefaultConfig()}
	root, closeLog := newRootCmd(deps)
	defer closeLog()

	baseDir := t.TempDir()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--base-dir", baseDir, "--debug", "cache", "list"})
	if err := root.Execute(); err != nil {
		t.Fatalf("cache list failed: %v", err)
	}

	if deps.Config.Storage.BaseDir != baseDir {
		t.Errorf("BaseDir = %q, want %q", deps.Config.Storage.BaseDir, baseDir)
	}
	if deps.Config.Log.Level != "debug" {
		t.Errorf("Log level = %q, want debug", deps.Config.Log.Level)
	}
	if !strings.Contains(out.String(), "No cached analyses.") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}

func TestNewLogger_FileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer

	logger, sink, err := newLogger(config.LogConfig{Level: "info", Dir: dir}, &console)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if sink == nil {
		t.Fatal("Expected a file sink when a log directory is set")
	}
	logger.Info("run started")
	if err := sink.Close(); err != nil {
		t.Fatalf("closing sink: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading log dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "vidlens_") {
		t.Errorf("Unexpected log files: %v", entries)
	}
	if !strings.Contains(console.String(), "run started") {
		t.Errorf("Console output missing message: %q", console.String())
	}
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	_, sink, err := newLogger(config.LogConfig{Level: "warn"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	if sink != nil {
		t.Error("Expected no sink without a log directory")
	}
}
