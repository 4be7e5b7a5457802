package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	prommodel "github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

type GuardConfig struct {
	Application ApplicationYAMLConfig `yaml:"application"`
	Sources     SourcesYAMLConfig     `yaml:"sources"`
	Storage     StorageYAMLConfig     `yaml:"storage"`
	Geo         GeoYAMLConfig         `yaml:"geo"`
	Detection   DetectionYAMLConfig   `yaml:"detection"`
	Firewall    FirewallYAMLConfig    `yaml:"firewall"`
	IDS         IDSYAMLConfig         `yaml:"ids"`
	Audit       AuditYAMLConfig       `yaml:"audit"`
	Alerting    AlertingYAMLConfig    `yaml:"alerting"`
	API         APIYAMLConfig         `yaml:"api"`
	Logging     LoggingYAMLConfig     `yaml:"logging"`
}

type ApplicationYAMLConfig struct {
	Name                string `yaml:"name"`
	PrometheusExportURL string `yaml:"prometheus_export_url"`
	AutoStart           bool   `yaml:"auto_start"`
}

type SourcesYAMLConfig struct {
	EvePath             string           `yaml:"eve_path"`
	CaptureDir          string           `yaml:"capture_dir"`
	CaptureGlob         string           `yaml:"capture_glob"`
	MaxRecordsPerSource int              `yaml:"max_records_per_source"`
	Hubble              HubbleYAMLConfig `yaml:"hubble"`
}

type HubbleYAMLConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Server     string             `yaml:"server"`
	Window     prommodel.Duration `yaml:"window"`
	MaxWindows int                `yaml:"max_windows"`
}

type StorageYAMLConfig struct {
	DataDir       string `yaml:"data_dir"`
	MergedFile    string `yaml:"merged_file"`
	ProposedFile  string `yaml:"proposed_file"`
	BlocklistFile string `yaml:"blocklist_file"`
	ProcessedFile string `yaml:"processed_file"`
}

type GeoYAMLConfig struct {
	// Provider is one of maxmind, static or none.
	Provider     string            `yaml:"provider"`
	DatabasePath string            `yaml:"database_path"`
	Static       map[string]string `yaml:"static,omitempty"`
}

type DetectionYAMLConfig struct {
	Interval      prommodel.Duration `yaml:"interval"`
	Contamination float64            `yaml:"contamination"`
	Seed          int64              `yaml:"seed"`
	Trees         int                `yaml:"trees"`
	SampleSize    int                `yaml:"sample_size"`
	Whitelist     []string           `yaml:"whitelist"`
	WhitelistFile string             `yaml:"whitelist_file"`
}

type FirewallYAMLConfig struct {
	// Mode is one of command, blackhole or noop.
	Mode           string             `yaml:"mode"`
	BlockCommand   string             `yaml:"block_command"`
	UnblockCommand string             `yaml:"unblock_command"`
	Timeout        prommodel.Duration `yaml:"timeout"`
}

type IDSYAMLConfig struct {
	ProcessName string `yaml:"process_name"`
	ProcRoot    string `yaml:"proc_root"`
}

type AuditYAMLConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

type AlertingYAMLConfig struct {
	Enabled  bool               `yaml:"enabled"`
	Channels AlertChannelsYAML  `yaml:"channels"`
	Telegram TelegramYAMLConfig `yaml:"telegram"`
	Redis    RedisYAMLConfig    `yaml:"redis"`
}

type AlertChannelsYAML struct {
	Log      bool `yaml:"log"`
	Telegram bool `yaml:"telegram"`
	Redis    bool `yaml:"redis"`
}

type TelegramYAMLConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

type RedisYAMLConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type APIYAMLConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimit is the sustained number of block/unblock requests per second per client.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type LoggingYAMLConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func LoadGuardConfig(filename string) (*GuardConfig, error) {
	if filename == "" {
		filename = "configs/ids_guard.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	config := GetDefaultGuardConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return config, nil
}

func (c *GuardConfig) Validate() error {
	if c.Application.Name == "" {
		c.Application.Name = "ids-guard"
	}
	if c.Application.PrometheusExportURL == "" {
		c.Application.PrometheusExportURL = "8080"
	}

	if c.Sources.EvePath == "" {
		c.Sources.EvePath = "/var/log/suricata/eve.json"
	}
	if c.Sources.CaptureGlob == "" {
		c.Sources.CaptureGlob = "*.csv"
	}
	if c.Sources.MaxRecordsPerSource < 0 {
		return fmt.Errorf("max_records_per_source cannot be negative")
	}
	if c.Sources.MaxRecordsPerSource == 0 {
		c.Sources.MaxRecordsPerSource = 1000
	}
	if c.Sources.Hubble.Enabled {
		if c.Sources.Hubble.Server == "" {
			c.Sources.Hubble.Server = "localhost:4245"
		}
		if c.Sources.Hubble.Window <= 0 {
			c.Sources.Hubble.Window = prommodel.Duration(time.Minute)
		}
		if c.Sources.Hubble.MaxWindows <= 0 {
			c.Sources.Hubble.MaxWindows = 5
		}
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "datasets"
	}
	if c.Storage.MergedFile == "" {
		c.Storage.MergedFile = "merged_logs.csv"
	}
	if c.Storage.ProposedFile == "" {
		c.Storage.ProposedFile = "ai_block.txt"
	}
	if c.Storage.BlocklistFile == "" {
		c.Storage.BlocklistFile = "blocked_ips.txt"
	}
	if c.Storage.ProcessedFile == "" {
		c.Storage.ProcessedFile = "processed_captures.txt"
	}

	switch c.Geo.Provider {
	case "":
		c.Geo.Provider = "maxmind"
	case "maxmind", "static", "none":
	default:
		return fmt.Errorf("unknown geo provider %q", c.Geo.Provider)
	}
	if c.Geo.Provider == "maxmind" && c.Geo.DatabasePath == "" {
		c.Geo.DatabasePath = filepath.Join(c.Storage.DataDir, "geoip.mmdb")
	}

	if c.Detection.Interval <= 0 {
		c.Detection.Interval = prommodel.Duration(10 * time.Second)
	}
	if c.Detection.Contamination == 0 {
		c.Detection.Contamination = 0.01
	}
	if c.Detection.Contamination < 0 || c.Detection.Contamination > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5], got %v", c.Detection.Contamination)
	}
	if c.Detection.Trees <= 0 {
		c.Detection.Trees = 100
	}
	if c.Detection.SampleSize <= 0 {
		c.Detection.SampleSize = 256
	}

	switch c.Firewall.Mode {
	case "":
		c.Firewall.Mode = "command"
	case "command", "blackhole", "noop":
	default:
		return fmt.Errorf("unknown firewall mode %q", c.Firewall.Mode)
	}
	if c.Firewall.Mode == "command" {
		if c.Firewall.BlockCommand == "" {
			c.Firewall.BlockCommand = "ipset add -exist ids-guard {ip}"
		}
		if c.Firewall.UnblockCommand == "" {
			c.Firewall.UnblockCommand = "ipset del -exist ids-guard {ip}"
		}
	}
	if c.Firewall.Timeout <= 0 {
		c.Firewall.Timeout = prommodel.Duration(5 * time.Second)
	}

	if c.IDS.ProcessName == "" {
		c.IDS.ProcessName = "suricata"
	}
	if c.IDS.ProcRoot == "" {
		c.IDS.ProcRoot = "/proc"
	}

	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite3"
	}
	if c.Audit.Driver != "sqlite3" && c.Audit.Driver != "postgres" {
		return fmt.Errorf("unsupported audit driver %q", c.Audit.Driver)
	}
	if c.Audit.DSN == "" && c.Audit.Driver == "sqlite3" {
		c.Audit.DSN = filepath.Join(c.Storage.DataDir, "audit.db")
	}

	if c.Alerting.Redis.Channel == "" {
		c.Alerting.Redis.Channel = "ids-guard:events"
	}

	if c.API.Port == "" {
		c.API.Port = "5001"
	}
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = 2
	}
	if c.API.RateBurst <= 0 {
		c.API.RateBurst = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}

	return nil
}

// GetPrometheusPort extracts port from PrometheusExportURL
func (c *GuardConfig) GetPrometheusPort() string {
	exportPort := c.Application.PrometheusExportURL
	if strings.Contains(exportPort, ":") {
		parts := strings.Split(exportPort, ":")
		if len(parts) > 0 {
			exportPort = parts[len(parts)-1]
		}
	}
	return exportPort
}

// DataPath resolves a storage file name against the data directory.
func (c *GuardConfig) DataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Storage.DataDir, name)
}

// GetDefaultGuardConfig returns a default GuardConfig
func GetDefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		Application: ApplicationYAMLConfig{
			Name:                "ids-guard",
			PrometheusExportURL: "8080",
		},
		Sources: SourcesYAMLConfig{
			EvePath:             "/var/log/suricata/eve.json",
			CaptureGlob:         "*.csv",
			MaxRecordsPerSource: 1000,
			Hubble: HubbleYAMLConfig{
				Server:     "localhost:4245",
				Window:     prommodel.Duration(time.Minute),
				MaxWindows: 5,
			},
		},
		Storage: StorageYAMLConfig{
			DataDir:       "datasets",
			MergedFile:    "merged_logs.csv",
			ProposedFile:  "ai_block.txt",
			BlocklistFile: "blocked_ips.txt",
			ProcessedFile: "processed_captures.txt",
		},
		Geo: GeoYAMLConfig{
			Provider: "maxmind",
		},
		Detection: DetectionYAMLConfig{
			Interval:      prommodel.Duration(10 * time.Second),
			Contamination: 0.01,
			Seed:          42,
			Trees:         100,
			SampleSize:    256,
			Whitelist:     []string{"127.0.0.1"},
		},
		Firewall: FirewallYAMLConfig{
			Mode:    "command",
			Timeout: prommodel.Duration(5 * time.Second),
		},
		IDS: IDSYAMLConfig{
			ProcessName: "suricata",
			ProcRoot:    "/proc",
		},
		Audit: AuditYAMLConfig{
			Enabled: true,
			Driver:  "sqlite3",
		},
		Alerting: AlertingYAMLConfig{
			Enabled: true,
			Channels: AlertChannelsYAML{
				Log: true,
			},
			Telegram: TelegramYAMLConfig{
				ParseMode: "Markdown",
			},
			Redis: RedisYAMLConfig{
				Channel: "ids-guard:events",
			},
		},
		API: APIYAMLConfig{
			Port: "5001",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
			RateLimit: 2,
			RateBurst: 5,
		},
		Logging: LoggingYAMLConfig{
			Level:      "INFO",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}
