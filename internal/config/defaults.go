package config

// Entry is a config key with its default value.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// DefaultEntries returns the default configuration entries.
// Every key here is registered with viper so SCREENOCR_* env vars can override it.
func DefaultEntries() []Entry {
	return []Entry{
		// Server
		{
			Key:         "server.host",
			Value:       "0.0.0.0",
			Description: "Interface to bind (all interfaces by default)",
		},
		{
			Key:         "server.port",
			Value:       5000,
			Description: "Port the desktop app connects to",
		},

		// Models
		{
			Key:         "models.engine",
			Value:       "tesseract",
			Description: "OCR engine: tesseract or mock",
		},
		{
			Key:         "models.cache_dir",
			Value:       "",
			Description: "Model cache directory (empty: {install_dir}/ocr_models)",
		},
		{
			Key:         "models.device",
			Value:       "auto",
			Description: "Compute device: auto, cuda, mps or cpu",
		},
		{
			Key:         "models.warmup",
			Value:       true,
			Description: "Run a warmup inference after loading",
		},
		{
			Key:         "models.preload",
			Value:       true,
			Description: "Start loading models in the background at startup",
		},

		// Inference
		{
			Key:         "inference.max_concurrency",
			Value:       1,
			Description: "Maximum concurrent engine calls",
		},
		{
			Key:         "inference.default_langs",
			Value:       []string{"en"},
			Description: "Languages used when a request names none",
		},

		// Logging
		{
			Key:         "log.level",
			Value:       "info",
			Description: "Log level: debug, info, warn or error",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Models: ModelsCfg{
			Engine:  "tesseract",
			Device:  "auto",
			Warmup:  true,
			Preload: true,
		},
		Inference: InferenceCfg{
			MaxConcurrency: 1,
			DefaultLangs:   []string{"en"},
		},
		Log: LogCfg{
			Level: "info",
		},
	}
}
