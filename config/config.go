/*
 * This file is part of the device-activator distribution (https://github.com/mlipscombe/device-activator).
 * Copyright (c) 2021-2026 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/mlipscombe/device-activator/activation"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "DEVICE_ACTIVATOR_"

// Session modes select when the DRM handshake runs before activation.
const (
	SessionAuto   = "auto"
	SessionAlways = "always"
	SessionNever  = "never"
)

// Commands accepted as the first positional argument.
const (
	CommandActivate   = "activate"
	CommandDeactivate = "deactivate"
)

// Config holds application configuration
type Config struct {
	LogLevel    string        `toml:"log_level"`
	Debug       bool          `toml:"debug"`
	ServiceURL  string        `toml:"service_url"`
	ClientType  string        `toml:"client_type"`
	Insecure    bool          `toml:"insecure"`
	Timeout     time.Duration `toml:"timeout"`
	DeviceFile  string        `toml:"device_file"`
	RecordFile  string        `toml:"record_file"`
	SessionMode string        `toml:"session_mode"`
	MaxRounds   int           `toml:"max_rounds"`
	Bind        string        `toml:"bind"`
	MQTTURL     string        `toml:"mqtt"`

	ConfigFile string `toml:"-"`
	Command    string `toml:"-"`
}

func defaults() *Config {
	return &Config{
		LogLevel:    "INFO",
		ServiceURL:  activation.DefaultURL,
		ClientType:  activation.MobileActivation.String(),
		Timeout:     60 * time.Second,
		DeviceFile:  "lockdown.plist",
		RecordFile:  "activation_record.plist",
		SessionMode: SessionAuto,
		MaxRounds:   activation.DefaultMaxRounds,
		Bind:        "false",
	}
}

// Load reads .env, the optional TOML file, environment variables and command-line flags.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("ignoring .env: %v", err)
	}
	return Parse(os.Args[0], os.Args[1:], os.Stderr)
}

// Parse builds a Config from args. Flags win over environment variables, which win over
// the config file, which wins over defaults.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	base := defaults()

	configFile := lookupEnvOrString(envPrefix+"CONFIG", scanConfigFlag(args))
	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, base); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] activate|deactivate\n", name)
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.ConfigFile, "config", configFile, "TOML configuration file")
	fs.StringVar(&cfg.LogLevel, "log-level", lookupEnvOrString(envPrefix+"LOG_LEVEL", base.LogLevel), "logging level")
	fs.BoolVar(&cfg.Debug, "debug", lookupEnvOrBool(envPrefix+"DEBUG", base.Debug), "log request and response traffic")
	fs.StringVar(&cfg.ServiceURL, "url", lookupEnvOrString(envPrefix+"URL", base.ServiceURL), "activation service URL")
	fs.StringVar(&cfg.ClientType, "client", lookupEnvOrString(envPrefix+"CLIENT", base.ClientType), "client identity, mobileactivation or itunes")
	fs.BoolVar(&cfg.Insecure, "insecure", lookupEnvOrBool(envPrefix+"INSECURE", base.Insecure), "skip TLS certificate verification")
	fs.DurationVar(&cfg.Timeout, "timeout", lookupEnvOrDuration(envPrefix+"TIMEOUT", base.Timeout), "timeout for each activation request")
	fs.StringVar(&cfg.DeviceFile, "device", lookupEnvOrString(envPrefix+"DEVICE", base.DeviceFile), "plist file of lockdown values")
	fs.StringVar(&cfg.RecordFile, "record", lookupEnvOrString(envPrefix+"RECORD", base.RecordFile), "file the activation record is written to")
	fs.StringVar(&cfg.SessionMode, "session", lookupEnvOrString(envPrefix+"SESSION", base.SessionMode), "DRM handshake mode: auto, always or never")
	fs.IntVar(&cfg.MaxRounds, "max-rounds", lookupEnvOrInt(envPrefix+"MAX_ROUNDS", base.MaxRounds), "maximum requests per activation session")
	fs.StringVar(&cfg.Bind, "bind", lookupEnvOrString(envPrefix+"BIND", base.Bind), "address to bind for healthz and prometheus metrics endpoints, or \"false\" to disable")
	fs.StringVar(&cfg.MQTTURL, "mqtt", lookupEnvOrString(envPrefix+"MQTT", base.MQTTURL), "MQTT URI for session events, in the format mqtt[s]://[<user>:<password>]@<host>:<port>[/<prefix>]")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Command = CommandActivate
	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Command = fs.Arg(0)
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Command != CommandActivate && cfg.Command != CommandDeactivate {
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
	if _, err := activation.ParseClientType(cfg.ClientType); err != nil {
		return err
	}
	switch cfg.SessionMode {
	case SessionAuto, SessionAlways, SessionNever:
	default:
		return fmt.Errorf("unknown session mode %q", cfg.SessionMode)
	}
	if cfg.MaxRounds <= 0 {
		return fmt.Errorf("max rounds must be positive, got %d", cfg.MaxRounds)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	return nil
}

// SetupLogging configures the logging level
func (cfg *Config) SetupLogging() {
	log.SetFormatter(&log.TextFormatter{})
	ll, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	if cfg.Debug && ll < log.DebugLevel {
		ll = log.DebugLevel
	}
	log.SetLevel(ll)
}

// scanConfigFlag finds -config ahead of flag parsing so the file can seed flag defaults.
func scanConfigFlag(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func lookupEnvOrString(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func lookupEnvOrBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		return false
	}
	return defaultVal
}

func lookupEnvOrInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Warnf("ignoring %s=%q: %v", key, val, err)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func lookupEnvOrDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warnf("ignoring %s=%q: %v", key, val, err)
			return defaultVal
		}
		return d
	}
	return defaultVal
}
