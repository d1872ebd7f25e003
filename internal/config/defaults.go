package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			DefaultProvider:       "ollama",
			MaxConcurrentMessages: 5,
			RateLimitPerMinute:    30,
			RateBurst:             5,
		},
		Assistant: AssistantConfig{
			Diagnostics: true,
			Temperature: 0.2,
			MaxTokens:   512,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				Mode:         "ollama",
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Commerce: CommerceConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 15,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
				User:    "cli-user",
			},
			Webhook: WebhookConfig{
				Enabled:             false,
				Host:                "127.0.0.1",
				Port:                3978,
				Path:                "/api/messages",
				ReplyTimeoutSeconds: 30,
			},
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.petassist/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Smoke: SmokeConfig{
			URL:            "http://localhost:8080",
			Headless:       true,
			ExpectedBreeds: 20,
			Breed:          "Afador",
			TimeoutSeconds: 60,
		},
	}
}
