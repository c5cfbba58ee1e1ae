package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	SampleRate         int    `mapstructure:"sample_rate"`
	BitDepth           int    `mapstructure:"bit_depth"`
	Channels           int    `mapstructure:"channels"`
	Encoding           string `mapstructure:"encoding"` // "pcm" or "float"
	Buffered           bool   `mapstructure:"buffered"`
	CallbackIntervalMS int    `mapstructure:"callback_interval_ms"`
	ResumeSkipMS       int    `mapstructure:"resume_skip_ms"`
	IncludeTree        bool   `mapstructure:"include_tree"`
	OutputDir          string `mapstructure:"output_dir"`
	LogLevel           string `mapstructure:"log_level"`
	LogFormat          string `mapstructure:"log_format"`
}

func Default() *Config {
	return &Config{
		SampleRate:         44100,
		BitDepth:           16,
		Channels:           2,
		Encoding:           "pcm",
		Buffered:           true,
		CallbackIntervalMS: 100,
		ResumeSkipMS:       100,
		IncludeTree:        true,
		OutputDir:          ".",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("recorder")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PLC")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("sample_rate", cfg.SampleRate)
	viper.Set("bit_depth", cfg.BitDepth)
	viper.Set("channels", cfg.Channels)
	viper.Set("encoding", cfg.Encoding)
	viper.Set("buffered", cfg.Buffered)
	viper.Set("callback_interval_ms", cfg.CallbackIntervalMS)
	viper.Set("resume_skip_ms", cfg.ResumeSkipMS)
	viper.Set("include_tree", cfg.IncludeTree)
	viper.Set("output_dir", cfg.OutputDir)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "recorder.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "ProcessLoopbackCapture")
	case "darwin":
		return "/Library/Application Support/ProcessLoopbackCapture"
	default:
		return "/etc/process-loopback-capture"
	}
}
