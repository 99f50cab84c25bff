package config

import (
	"fmt"
	"net/url"
)

var validStorageTypes = map[string]bool{
	"json": true, "jsonl": true, "csv": true, "html": true,
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.Concurrency > 1000 {
		return fmt.Errorf("engine.concurrency must be <= 1000, got %d", cfg.Engine.Concurrency)
	}
	if cfg.Engine.MaxDepth < 0 {
		return fmt.Errorf("engine.max_depth must be >= 0, got %d", cfg.Engine.MaxDepth)
	}
	if cfg.Engine.MaxPages < 0 {
		return fmt.Errorf("engine.max_pages must be >= 0, got %d", cfg.Engine.MaxPages)
	}
	if cfg.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine.request_timeout must be > 0")
	}
	if cfg.Engine.PolitenessDelay < 0 {
		return fmt.Errorf("engine.politeness_delay must be >= 0")
	}
	if cfg.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0, got %d", cfg.Engine.MaxRetries)
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if cfg.Fetcher.Type != "http" && cfg.Fetcher.Type != "browser" {
		return fmt.Errorf("fetcher.type must be 'http' or 'browser', got %q", cfg.Fetcher.Type)
	}

	if err := ValidateStorage(cfg.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	for i, sp := range cfg.Spiders {
		if err := ValidateSpider(sp); err != nil {
			return fmt.Errorf("spiders[%d]: %w", i, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateStorage checks an output configuration.
func ValidateStorage(s StorageConfig) error {
	if !validStorageTypes[s.Type] {
		return fmt.Errorf("type %q is not supported (valid: json, jsonl, csv, html)", s.Type)
	}
	if s.OutputPath == "" {
		return fmt.Errorf("output_path must be set")
	}
	return nil
}

// ValidateSpider checks a spider definition. Every rule must have a name,
// a selector and a known type, and names must be unique.
func ValidateSpider(sp SpiderConfig) error {
	if sp.Name == "" {
		return fmt.Errorf("name must be set")
	}
	if len(sp.StartURLs) == 0 {
		return fmt.Errorf("spider %q has no start_urls", sp.Name)
	}
	for _, u := range sp.StartURLs {
		if err := ValidateURL(u); err != nil {
			return fmt.Errorf("spider %q start url %q: %w", sp.Name, u, err)
		}
	}
	seen := make(map[string]bool, len(sp.Rules))
	for _, r := range sp.Rules {
		if r.Name == "" || r.Selector == "" {
			return fmt.Errorf("spider %q has a rule without name or selector", sp.Name)
		}
		if r.Type != "" && r.Type != "css" && r.Type != "xpath" {
			return fmt.Errorf("spider %q rule %q: type must be css or xpath, got %q", sp.Name, r.Name, r.Type)
		}
		if seen[r.Name] {
			return fmt.Errorf("spider %q: duplicate rule %q", sp.Name, r.Name)
		}
		seen[r.Name] = true
	}
	if sp.Feed != nil {
		if err := ValidateStorage(*sp.Feed); err != nil {
			return fmt.Errorf("spider %q feed: %w", sp.Name, err)
		}
	}
	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
