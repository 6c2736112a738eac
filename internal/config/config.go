package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "/etc/praise-prison/config/config.yaml"

	envConfigFile = "PRAISE_PRISON_CONFIG"
	envBackendURL = "SUPABASE_URL"
	envAnonKey    = "SUPABASE_ANON_KEY"
	envAppEnv     = "APP_ENV"
	envPublicURL  = "PUBLIC_URL"

	appEnvProduction = "production"
)

type Config struct {
	Backend BackendConfig `yaml:"backend" json:"backend"`
	App     AppConfig     `yaml:"app" json:"app"`
	Session SessionConfig `yaml:"session" json:"session"`
	Server  ServerConfig  `yaml:"server" json:"server"`
}

// Load reads the config file and applies environment overrides. The default
// file is optional so that a deployment configured only through the
// environment still starts; a file named explicitly must exist.
func Load() (*Config, error) {
	fileName := defaultConfigFile
	explicit := false
	if fn := os.Getenv(envConfigFile); fn != "" {
		fileName = fn
		explicit = true
	}
	var cfg Config
	f, err := os.Open(fileName)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file '%s': %w", fileName, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.ValidateAndInitialize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envBackendURL); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv(envAnonKey); v != "" {
		c.Backend.AnonKey = v
	}
	if v := os.Getenv(envAppEnv); v != "" {
		c.App.Production = v == appEnvProduction
	}
	if v := os.Getenv(envPublicURL); v != "" {
		c.App.PublicURL = v
	}
}

func (c *Config) ValidateAndInitialize() error {
	// Apply defaults.
	c.Backend.applyDefaults()
	c.App.applyDefaults()
	c.Session.applyDefaults()
	c.Server.applyDefaults()

	// Validate fields.
	c.Backend.URL = strings.TrimSuffix(c.Backend.URL, "/")
	if err := c.Backend.validate(); err != nil {
		return err
	}
	if c.App.PublicURL != "" {
		c.App.PublicURL = strings.TrimSuffix(c.App.PublicURL, "/")
		if !strings.HasPrefix(c.App.PublicURL, "http://") && !strings.HasPrefix(c.App.PublicURL, "https://") {
			return fmt.Errorf("app.publicURL must be an absolute http(s) URL")
		}
	}
	if !strings.HasPrefix(c.App.LoginPath, "/") {
		return fmt.Errorf("app.loginPath must start with '/'")
	}
	if err := c.Session.validate(); err != nil {
		return err
	}

	// Compile regular expressions.
	buildRegexList := func(in []string, out *[]*regexp.Regexp) error {
		*out = nil
		for _, s := range in {
			r, err := regexp.Compile(s)
			if err != nil {
				return fmt.Errorf("failed to compile regex '%s': %w", s, err)
			}
			*out = append(*out, r)
		}
		return nil
	}
	if err := buildRegexList(c.App.AllowedNextPaths, &c.App.regexAllowedNextPaths); err != nil {
		return fmt.Errorf("failed to build regex list for allowed next paths: %w", err)
	}

	return nil
}
