package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads v's config file whenever it changes and reports the newly
// loaded configuration to onChange. A file that fails to load or validate
// is reported with a nil Config and the error; the previous configuration
// stays in effect for the caller.
//
// v must have a config file set and read before Watch is called.
func Watch(v *viper.Viper, onChange func(cfg *Config, err error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := LoadFrom(v)
		onChange(cfg, err)
	})
	v.WatchConfig()
}
