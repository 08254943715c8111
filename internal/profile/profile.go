package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo".
	Mode string
	// Addr is the binding address for server.
	Addr string
	// Port is the binding port for server.
	Port int
	// ConfigFile is the path to the YAML routing configuration.
	ConfigFile string
	// Debug enables verbose error payloads on internal failures.
	Debug bool
	// Version is the current version of server.
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.ConfigFile == "" {
		p.ConfigFile = getEnvOrDefault("MEMRELAY_CONFIG", "memrelay.yaml")
	}
	p.Debug = getEnvOrDefaultBool("MEMRELAY_DEBUG", p.Debug)
}

func checkConfigFile(configFile string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(configFile) {
		absFile, err := filepath.Abs(configFile)
		if err != nil {
			return "", err
		}
		configFile = absFile
	}

	configFile = strings.TrimRight(configFile, "\\/")
	if _, err := os.Stat(configFile); err != nil {
		return "", errors.Wrapf(err, "unable to access config file %s", configFile)
	}
	return configFile, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}

	configFile, err := checkConfigFile(p.ConfigFile)
	if err != nil {
		return err
	}
	p.ConfigFile = configFile

	return nil
}
