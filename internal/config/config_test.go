package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"PORT", "DB_DSN", "ETA_MINUTES", "RATE_LIMIT_PER_MIN", "RATE_LIMIT_BURST",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "4000" {
		t.Fatalf("port = %q, want 4000", cfg.Port)
	}
	if cfg.EtaMinutes != 10 {
		t.Fatalf("eta = %d, want 10", cfg.EtaMinutes)
	}
	if cfg.RateLimitPerMinute != 120 || cfg.RateLimitBurst != 30 {
		t.Fatalf("rate limit = %d/%d, want 120/30", cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	if cfg.OTLPEndpoint != "" || cfg.OTLPInsecure {
		t.Fatalf("otlp = %q insecure=%v, want disabled", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ETA_MINUTES", "25")
	t.Setenv("RATE_LIMIT_PER_MIN", "not-a-number")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Fatalf("port = %q, want 9000", cfg.Port)
	}
	if cfg.EtaMinutes != 25 {
		t.Fatalf("eta = %d, want 25", cfg.EtaMinutes)
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Fatalf("bad int must fall back to default, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.OTLPEndpoint != "collector:4317" || !cfg.OTLPInsecure {
		t.Fatalf("otlp = %q insecure=%v", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
}
