package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/tracecraft/internal/config"
	"github.com/KilimcininKorOglu/tracecraft/internal/output"
	"github.com/KilimcininKorOglu/tracecraft/internal/probe"
)

func TestApplyConfigDefaults(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	registerScanFlags(cmd)

	if err := cmd.ParseFlags([]string{"-t", "udp", "-p", "33434", "--wscale", "7", "-m", "8", "-vv"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	c := config.DefaultConfig()
	applyConfigDefaults(cmd, c)

	d := c.Defaults
	if d.Type != "udp" {
		t.Errorf("Type = %q, want udp", d.Type)
	}
	if d.Port != 33434 {
		t.Errorf("Port = %d, want 33434", d.Port)
	}
	if d.MaxTTL != 8 {
		t.Errorf("MaxTTL = %d, want 8", d.MaxTTL)
	}
	if d.FirstTTL != 1 {
		t.Errorf("FirstTTL = %d, want unchanged 1", d.FirstTTL)
	}
	if d.Verbose != 2 {
		t.Errorf("Verbose = %d, want 2", d.Verbose)
	}
	if d.Middlebox.WindowScale == nil || *d.Middlebox.WindowScale != 7 {
		t.Errorf("WindowScale = %v, want 7", d.Middlebox.WindowScale)
	}
	if d.Middlebox.MSS != 1460 {
		t.Errorf("MSS = %d, want unchanged 1460", d.Middlebox.MSS)
	}
}

func TestDumpFormat(t *testing.T) {
	if got := dumpFormat(config.Defaults{JSON: true}); got != output.FormatJSON {
		t.Errorf("dumpFormat(JSON) = %v, want json", got)
	}
	if got := dumpFormat(config.Defaults{}); got != output.FormatText {
		t.Errorf("dumpFormat() = %v, want text", got)
	}
}

func TestPermissionHint(t *testing.T) {
	err := permissionHint(probe.ErrPermissionDenied)
	if !errors.Is(err, probe.ErrPermissionDenied) {
		t.Errorf("permissionHint() lost the sentinel: %v", err)
	}
	if !strings.Contains(err.Error(), "CAP_NET_RAW") {
		t.Errorf("permissionHint() = %q, want a capability hint", err)
	}

	other := errors.New("boom")
	if got := permissionHint(other); got != other {
		t.Errorf("permissionHint(other) = %v, want unchanged", got)
	}
}

func TestWriteSummary(t *testing.T) {
	reg := prometheus.NewRegistry()
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecraft_probe_sent_total",
		Help: "probes",
	}, []string{"protocol"})
	reg.MustRegister(sent)
	sent.WithLabelValues("udp").Add(3)

	var buf bytes.Buffer
	if err := writeSummary(&buf, reg, output.Config{Colors: true}); err != nil {
		t.Fatalf("writeSummary() error = %v", err)
	}
	if !strings.Contains(buf.String(), "udp") {
		t.Errorf("summary missing protocol row:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("summary to a non-terminal should not be colored:\n%s", buf.String())
	}
}

func TestRunConfigPath(t *testing.T) {
	configPath = true
	t.Cleanup(func() { configPath = false })

	var buf bytes.Buffer
	configCmd.SetOut(&buf)
	t.Cleanup(func() { configCmd.SetOut(nil) })

	if err := runConfig(configCmd, nil); err != nil {
		t.Fatalf("runConfig() error = %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != config.GetConfigPath() {
		t.Errorf("runConfig --path = %q, want %q", got, config.GetConfigPath())
	}
}

func TestRunConfigInit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("user config path comes from APPDATA on windows")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configInit = true
	t.Cleanup(func() { configInit = false })

	var buf bytes.Buffer
	configCmd.SetOut(&buf)
	t.Cleanup(func() { configCmd.SetOut(nil) })

	if err := runConfig(configCmd, nil); err != nil {
		t.Fatalf("runConfig --init error = %v", err)
	}
	c, err := config.LoadFrom(config.GetConfigPath())
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if diff := cmp.Diff(config.DefaultConfig().Defaults, c.Defaults); diff != "" {
		t.Errorf("saved defaults mismatch (-want +got):\n%s", diff)
	}

	if err := runConfig(configCmd, nil); err == nil {
		t.Error("runConfig --init over an existing file expected error")
	}
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("defaults:\n  type: icmp\n  max_ttl: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout := os.Stdout
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = stdout
		devNull.Close()
	})

	rootCmd.SetArgs([]string{"--config", path, "-n", "--no-summary", "-s", "198.51.100.7", "192.0.2.1"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if cfg.Defaults.Type != "icmp" {
		t.Errorf("Type = %q, want icmp from config file", cfg.Defaults.Type)
	}
	if src, ok := cfg.Get(probe.SourceIPKey); !ok || src != "198.51.100.7" {
		t.Errorf("published source = %q, %v; want 198.51.100.7", src, ok)
	}
}
