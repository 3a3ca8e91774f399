package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-test/deep"
	"github.com/sirupsen/logrus"
)

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "testdb"
	cfg.Database.Username = "testuser"
	cfg.Database.Password = "testpassword"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode="
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLIENTPATCH_CONFIG_DIR", dir)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	got := map[string]interface{}{
		"config dir": cfg.ConfigDir,
		"log level":  cfg.LogLevel,
		"keystore":   cfg.KeystorePath(),
		"password":   cfg.Keystore.Password,
		"alias":      cfg.Keystore.Alias,
		"cache":      cfg.CacheDir(),
		"cache on":   cfg.Cache.Enabled,
		"engine":     cfg.Database.Engine,
		"database":   cfg.DatabaseFile(),
	}
	want := map[string]interface{}{
		"config dir": dir,
		"log level":  "info",
		"keystore":   filepath.Join(dir, "signkey", "fake-cert.jks"),
		"password":   "123456",
		"alias":      "test",
		"cache":      filepath.Join(dir, "runelite"),
		"cache on":   true,
		"engine":     "sqlite",
		"database":   filepath.Join(dir, "clientpatch.db"),
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("LoadConfig() defaults did not match expected: %v", diff)
	}
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := "log_level: debug\n" +
		"keystore:\n" +
		"  path: /etc/clientpatch/release.jks\n" +
		"  alias: release\n" +
		"database:\n" +
		"  engine: postgres\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLIENTPATCH_KEYSTORE_ALIAS", "override")
	t.Setenv("CLIENTPATCH_DATABASE_PORT", "6543")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if got := cfg.KeystorePath(); got != "/etc/clientpatch/release.jks" {
		t.Errorf("KeystorePath() = %s, want the absolute path unchanged", got)
	}
	if cfg.Keystore.Alias != "override" {
		t.Errorf("Keystore.Alias = %s, want override", cfg.Keystore.Alias)
	}
	if cfg.Database.Engine != "postgres" || cfg.Database.Port != 6543 {
		t.Errorf("Database = %s:%d, want postgres:6543", cfg.Database.Engine, cfg.Database.Port)
	}
}

func TestLoadConfig_DefaultDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".clientpatch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: error\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %s, want error", cfg.LogLevel)
	}
	if cfg.ConfigDir != dir {
		t.Errorf("ConfigDir = %s, want %s", cfg.ConfigDir, dir)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: [debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Error("LoadConfig() accepted a malformed config file")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "warn", LogFilePath: filepath.Join(t.TempDir(), "clientpatch.log")}
	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() returned an unexpected error: %v", err)
	}
	if log.Level != logrus.WarnLevel {
		t.Errorf("Level = %v, want %v", log.Level, logrus.WarnLevel)
	}
	log.Info("dropped")
	log.Warn("kept")

	b, err := os.ReadFile(cfg.LogFilePath)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); !strings.Contains(got, "kept") || strings.Contains(got, "dropped") {
		t.Errorf("log file contents = %q", got)
	}

	if _, err := NewLogger(&Config{LogLevel: "loud"}); err == nil {
		t.Error("NewLogger() accepted an unknown level")
	}
}
