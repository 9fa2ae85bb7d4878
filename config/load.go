package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/weftwork/weft/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the weft configuration, caching it for the process lifetime.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// Reset drops the cached config so the next Load re-reads the file. The
// config watcher uses this on reload.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// LoadFromFile loads configuration from a specific file path, bypassing the
// cache and environment lookup paths.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config file %s", configPath)
	}
	return &config, nil
}

func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")

	dir, err := Dir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve config directory")
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// A missing file is fine — defaults plus environment carry us.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	viperInstance = v
	return v, nil
}
