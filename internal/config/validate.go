package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous values that would make the capture format unusable are clamped to
// safe defaults. Other validation errors are logged as warnings but do not
// prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.SampleRate < 1000 {
		errs = append(errs, fmt.Errorf("sample_rate %d is below minimum 1000, clamping", c.SampleRate))
		c.SampleRate = 1000
	} else if c.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("sample_rate %d exceeds maximum 384000, clamping", c.SampleRate))
		c.SampleRate = 384000
	}

	switch c.BitDepth {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("bit_depth %d is not one of 8, 16, 24, 32, using 16", c.BitDepth))
		c.BitDepth = 16
	}

	if c.Channels < 1 {
		errs = append(errs, fmt.Errorf("channels %d is below minimum 1, clamping", c.Channels))
		c.Channels = 1
	} else if c.Channels > 1024 {
		errs = append(errs, fmt.Errorf("channels %d exceeds maximum 1024, clamping", c.Channels))
		c.Channels = 1024
	}

	switch strings.ToLower(c.Encoding) {
	case "pcm", "float":
	default:
		errs = append(errs, fmt.Errorf("encoding %q is not valid (use pcm or float), using pcm", c.Encoding))
		c.Encoding = "pcm"
	}

	if c.CallbackIntervalMS < 1 {
		errs = append(errs, fmt.Errorf("callback_interval_ms %d is below minimum 1, clamping", c.CallbackIntervalMS))
		c.CallbackIntervalMS = 1
	} else if c.CallbackIntervalMS > 10000 {
		errs = append(errs, fmt.Errorf("callback_interval_ms %d exceeds maximum 10000, clamping", c.CallbackIntervalMS))
		c.CallbackIntervalMS = 10000
	}

	if c.ResumeSkipMS < 0 {
		errs = append(errs, fmt.Errorf("resume_skip_ms %d is negative, clamping to 0", c.ResumeSkipMS))
		c.ResumeSkipMS = 0
	} else if c.ResumeSkipMS > 10000 {
		errs = append(errs, fmt.Errorf("resume_skip_ms %d exceeds maximum 10000, clamping", c.ResumeSkipMS))
		c.ResumeSkipMS = 10000
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Log validation errors as warnings
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
