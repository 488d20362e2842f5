// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/tickwire"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// settings are the host settings read from a configuration file and the
// environment. Environment variables have the prefix TICKWIRE_, with dots
// replaced by underscores (for example TICKWIRE_LOG_LEVEL).
type settings struct {
	GameID      uint32      `mapstructure:"game_id"`
	Version     uint32      `mapstructure:"version"`
	Port        uint16      `mapstructure:"port"`
	SessionName string      `mapstructure:"session_name"`
	MaxClients  int         `mapstructure:"max_clients"`
	Advertise   bool        `mapstructure:"advertise"`
	TickRate    int         `mapstructure:"tick_rate"`
	Net         netSettings `mapstructure:"net"`
	Log         logSettings `mapstructure:"log"`
}

type netSettings struct {
	ResendInterval  time.Duration `mapstructure:"resend_interval"`
	MaxResends      int           `mapstructure:"max_resends"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	InactiveTimeout time.Duration `mapstructure:"inactive_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
}

type logSettings struct {
	Level  string       `mapstructure:"level"`
	Format string       `mapstructure:"format"` // text or json
	File   fileSettings `mapstructure:"file"`
}

type fileSettings struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// loadSettings reads settings from the file at path, if path is not empty,
// and from the environment.
func loadSettings(path string) (*settings, error) {
	v := viper.New()
	v.SetDefault("game_id", 0x7157)
	v.SetDefault("version", 1)
	v.SetDefault("port", tickwire.DefaultPort)
	v.SetDefault("session_name", "tickwire")
	v.SetDefault("max_clients", 9)
	v.SetDefault("advertise", true)
	v.SetDefault("tick_rate", 30)
	v.SetDefault("net.resend_interval", 100*time.Millisecond)
	v.SetDefault("net.max_resends", 20)
	v.SetDefault("net.connect_timeout", 5*time.Second)
	v.SetDefault("net.inactive_timeout", 15*time.Second)
	v.SetDefault("net.ping_interval", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age", 28)
	v.SetDefault("log.file.compress", false)

	v.SetEnvPrefix("TICKWIRE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if path != "" {
		filename := filepath.Base(path)
		ext := filepath.Ext(filename)
		v.SetConfigName(strings.TrimSuffix(filename, ext))
		v.SetConfigType(strings.TrimPrefix(ext, "."))
		v.AddConfigPath(filepath.Dir(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if s.TickRate <= 0 {
		return nil, fmt.Errorf("invalid tick rate %d", s.TickRate)
	}
	return &s, nil
}

// interval reports the duration of one tick.
func (s *settings) interval() time.Duration { return time.Second / time.Duration(s.TickRate) }

// logger constructs a logger for s. If debug is true, the configured level
// is overridden. Logs are written to stderr and, if a file name is set, to a
// rotating log file.
func (s *settings) logger(debug bool) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	switch s.Log.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", s.Log.Format)
	}

	if f := s.Log.File; f.Filename != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   f.Filename,
			MaxSize:    f.MaxSize,    // megabytes
			MaxBackups: f.MaxBackups, // number of backups
			MaxAge:     f.MaxAge,     // days
			Compress:   f.Compress,
		}))
	}
	return log, nil
}

// hostConfig returns a host configuration for s.
func (s *settings) hostConfig(log logrus.FieldLogger) tickwire.Config {
	return tickwire.Config{
		GameID:          s.GameID,
		Version:         s.Version,
		Logger:          log,
		SessionName:     s.SessionName,
		Advertise:       s.Advertise,
		MaxClients:      s.MaxClients,
		ResendInterval:  s.Net.ResendInterval,
		MaxResends:      s.Net.MaxResends,
		ConnectTimeout:  s.Net.ConnectTimeout,
		InactiveTimeout: s.Net.InactiveTimeout,
		PingInterval:    s.Net.PingInterval,
	}
}
