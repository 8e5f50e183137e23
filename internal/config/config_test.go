package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":8085" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Windows.TargetTime != "12:30" || cfg.Windows.DaysBefore != 7 {
		t.Errorf("window defaults = %+v", cfg.Windows)
	}
	if cfg.Windows.WindowPolicyLocation().String() != "Asia/Kolkata" {
		t.Errorf("timezone = %v", cfg.Windows.WindowPolicyLocation())
	}
	if !cfg.Schedule.Enabled {
		t.Error("schedule must default to enabled")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	content := `
server:
  address: ":9090"
  apiKey: "sekret"
source:
  baseURL: "http://vmselect:8481/select/0/prometheus/api/v1"
windows:
  targetTime: "09:15"
  daysBefore: 1
  widthMinutes: 30
  timezone: "UTC"
domains:
  application:
    apiList: ["/v1/search", "/v1/book"]
    requests:
      minActivity:
        5xx: 100
      percentThreshold:
        5xx: 30
  database:
    clusters: ["orders-cluster"]
    policy:
      percentThreshold:
        CPUUtilization: 25
`
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":9090" || cfg.Server.APIKey != "sekret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Windows.TargetTime != "09:15" || cfg.Windows.DaysBefore != 1 || cfg.Windows.WidthMinutes != 30 {
		t.Errorf("windows = %+v", cfg.Windows)
	}
	if len(cfg.Domains.Application.APIList) != 2 {
		t.Errorf("api list = %v", cfg.Domains.Application.APIList)
	}
	if cfg.Domains.Application.Requests.MinActivity["5xx"] != 100 {
		t.Errorf("requests policy = %+v", cfg.Domains.Application.Requests)
	}
	if cfg.Domains.Database.Policy.PercentThreshold["CPUUtilization"] != 25 {
		t.Errorf("database policy = %+v", cfg.Domains.Database.Policy)
	}
	// Unset fields keep their defaults.
	if cfg.Domains.Application.MinConsecutive != 2 {
		t.Errorf("min consecutive default lost: %+v", cfg.Domains.Application)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_SERVER_ADDRESS", ":7070")
	t.Setenv("SENTINEL_SOURCE_URL", "http://vmselect:8481")
	t.Setenv("SENTINEL_DAYS_BEFORE", "3")
	t.Setenv("SENTINEL_TIMEZONE", "UTC")
	t.Setenv("SENTINEL_CACHE_ENABLED", "true")
	t.Setenv("SENTINEL_CACHE_DIAL_TIMEOUT", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":7070" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.Source.BaseURL != "http://vmselect:8481" {
		t.Errorf("source url = %q", cfg.Source.BaseURL)
	}
	if cfg.Windows.DaysBefore != 3 || cfg.Windows.Timezone != "UTC" {
		t.Errorf("windows = %+v", cfg.Windows)
	}
	if !cfg.Cache.Enabled || cfg.Cache.DialTimeout != 5*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
}

func TestBadTimezoneFallsBackToUTC(t *testing.T) {
	w := WindowsConfig{Timezone: "Not/AZone"}
	if w.WindowPolicyLocation() != time.UTC {
		t.Fatal("bad timezone must fall back to UTC")
	}
}
