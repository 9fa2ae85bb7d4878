package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("space.path", "")
	v.SetDefault("space.peer", "")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("sync.name", "")
	v.SetDefault("sync.hubs", map[string]string{})

	v.SetDefault("log.json", false)
}
