package config

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/usr/local/var/docstack/data/docstack.db"
	}
	if cfg.IndexStore.Type == "" {
		cfg.IndexStore.Type = "local"
	}
	if cfg.IndexStore.URL == "" {
		cfg.IndexStore.URL = "http://localhost:9200"
	}
	if cfg.IndexStore.LocalPath == "" {
		cfg.IndexStore.LocalPath = "/usr/local/var/docstack/data/indices"
	}
	if cfg.IndexStore.TimeoutSeconds == 0 {
		cfg.IndexStore.TimeoutSeconds = 10
	}
	if cfg.Runtime.URL == "" {
		cfg.Runtime.URL = "http://localhost:1416"
	}
	if cfg.Runtime.DeployTimeoutSeconds == 0 {
		cfg.Runtime.DeployTimeoutSeconds = 120
	}
	if cfg.Runtime.IndexTimeoutSeconds == 0 {
		cfg.Runtime.IndexTimeoutSeconds = 300
	}
	if cfg.Runtime.QueryTimeoutSeconds == 0 {
		cfg.Runtime.QueryTimeoutSeconds = 60
	}
	if cfg.Auth.SessionExpireHours == 0 {
		cfg.Auth.SessionExpireHours = 24
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 12
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
