package env

import (
	"context"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config describes how to reach the media server. Values come from, in
// increasing precedence: defaults, the TOML config file, .env.local,
// then ANTENNA_* environment variables.
type Config struct {
	Host       string `toml:"host" env:"ANTENNA_HOST"`
	Port       int    `toml:"port" env:"ANTENNA_PORT"`
	User       string `toml:"user" env:"ANTENNA_USER"`
	Password   string `toml:"password" env:"ANTENNA_PASSWORD"`
	ClientName string `toml:"client_name" env:"ANTENNA_CLIENT_NAME"`

	// EPG mirrors the full programme guide during sync
	EPG bool `toml:"epg" env:"ANTENNA_EPG"`

	DebugHTTP bool `toml:"debug_http" env:"ANTENNA_DEBUG_HTTP"`
	Trace     bool `toml:"trace" env:"ANTENNA_TRACE"`
}

func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := Config{
		Host: "localhost",
		Port: 9982,
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
