// Package config loads the relay configuration through viper.
package config

import (
	"errors"
	"io/fs"

	"github.com/spf13/viper"

	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

// SetDefaults registers the default relay settings. Every key can be
// overridden by a config file passed to Load.
func SetDefaults() {
	viper.SetDefault("listen", ":9190")
	viper.SetDefault("loglevel", "info")
}

// Load reads the config file at configFilePath on top of the defaults.
// An empty path or a missing file keeps the defaults; any other read
// error is fatal for the caller.
func Load(configFilePath string) error {
	SetDefaults()

	if configFilePath == "" {
		return nil
	}

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		// With an explicit config file a missing path surfaces as a
		// fs.PathError, not viper's own not-found error.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			util.LogInfo("no config file found at %s, using defaults", configFilePath)
			return nil
		}
		return err
	}

	util.LogInfo("loaded config from %s", viper.ConfigFileUsed())
	return nil
}

// ListenAddr returns the relay's HTTP listen address.
func ListenAddr() string { return viper.GetString("listen") }

// LogLevel returns the configured log level name.
func LogLevel() string { return viper.GetString("loglevel") }
