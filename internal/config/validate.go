package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if err := c.Convert.Validate(); err != nil {
		return fmt.Errorf("convert config: %w", err)
	}

	if err := c.IO.Validate(); err != nil {
		return fmt.Errorf("io config: %w", err)
	}

	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	return nil
}

func (c *ConvertConfig) Validate() error {
	rate, err := c.Rate()
	if err != nil {
		return fmt.Errorf("invalid fps %q: %w", c.FPS, err)
	}

	if rate.Num <= 0 || rate.Den <= 0 {
		return fmt.Errorf("fps must be positive, got %s", rate)
	}

	if c.InterpStart < 0 || c.InterpStart > 255 {
		return fmt.Errorf("interp_start must be in 0..255, got %d", c.InterpStart)
	}

	if c.InterpEnd < 0 || c.InterpEnd > 255 {
		return fmt.Errorf("interp_end must be in 0..255, got %d", c.InterpEnd)
	}

	if c.Scene < 0 || c.Scene > 100 {
		return fmt.Errorf("scene threshold must be in 0..100, got %g", c.Scene)
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}

	return nil
}

func (i *IOConfig) Validate() error {
	if i.Input == "" {
		return fmt.Errorf("input cannot be empty, use \"-\" for stdin")
	}

	if i.Output == "" {
		return fmt.Errorf("output cannot be empty, use \"-\" for stdout")
	}

	if i.ReadBuffer <= 0 {
		return fmt.Errorf("read_buffer must be positive")
	}

	if i.WriteBuffer <= 0 {
		return fmt.Errorf("write_buffer must be positive")
	}

	return nil
}

func (m *MemoryConfig) Validate() error {
	if m.MaxTotal <= 0 {
		return fmt.Errorf("max_total must be positive")
	}

	if m.MaxPerSession <= 0 {
		return fmt.Errorf("max_per_session must be positive")
	}

	if m.MaxPerSession > m.MaxTotal {
		return fmt.Errorf("max_per_session (%d) cannot exceed max_total (%d)", m.MaxPerSession, m.MaxTotal)
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		// If it's a file path, check rotation limits
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}
