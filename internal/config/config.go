// Package config loads service settings from file and environment and
// builds the shared infrastructure handles (logger, database).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix, e.g. AE3GIS_LOGGING_LEVEL.
const EnvPrefix = "AE3GIS"

// Settings is a typed snapshot of the configuration tree.
type Settings struct {
	ListenAddr         string
	ConfigPath         string
	TemplatesCachePath string
	ScriptsDir         string
	GNS3BaseURL        string
	GNS3ServerIP       string
	GNS3ServerPort     int
	GNS3Username       string
	GNS3Password       string
	GNS3RequestDelay   time.Duration
	DatabasePath       string
}

// Load reads configuration from an optional file plus AE3GIS_-prefixed
// environment variables. Every key has a default, so a missing config
// file is not an error.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("config.path", "./config/config.generated.json")
	v.SetDefault("config.templates_cache_path", "./config/templates.generated.json")
	v.SetDefault("scripts.dir", "scripts")
	v.SetDefault("gns3.base_url", "")
	v.SetDefault("gns3.server_ip", "127.0.0.1")
	v.SetDefault("gns3.server_port", 3080)
	v.SetDefault("gns3.username", "")
	v.SetDefault("gns3.password", "")
	v.SetDefault("gns3.request_delay", "0s")
	v.SetDefault("database.path", "./data/ae3gis.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ae3gis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ae3gis")
	}

	// Environment variable support: AE3GIS_SERVER_LISTEN_ADDR=:9000
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine, defaults and environment apply.
	}

	return v, nil
}

// FromViper snapshots the viper tree into typed settings.
func FromViper(v *viper.Viper) Settings {
	return Settings{
		ListenAddr:         v.GetString("server.listen_addr"),
		ConfigPath:         v.GetString("config.path"),
		TemplatesCachePath: v.GetString("config.templates_cache_path"),
		ScriptsDir:         v.GetString("scripts.dir"),
		GNS3BaseURL:        resolveBaseURL(v),
		GNS3ServerIP:       v.GetString("gns3.server_ip"),
		GNS3ServerPort:     v.GetInt("gns3.server_port"),
		GNS3Username:       v.GetString("gns3.username"),
		GNS3Password:       v.GetString("gns3.password"),
		GNS3RequestDelay:   v.GetDuration("gns3.request_delay"),
		DatabasePath:       v.GetString("database.path"),
	}
}

// ServerURL builds the GNS3 endpoint for a specific server address using
// the configured port. Used when fanning out across several servers.
func (s Settings) ServerURL(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, s.GNS3ServerPort)
}

// resolveBaseURL prefers an explicit base URL and otherwise builds one
// from the server address and port.
func resolveBaseURL(v *viper.Viper) string {
	if base := v.GetString("gns3.base_url"); base != "" {
		return strings.TrimRight(base, "/")
	}
	return fmt.Sprintf("http://%s:%d", v.GetString("gns3.server_ip"), v.GetInt("gns3.server_port"))
}
