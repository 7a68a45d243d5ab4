package config

import (
	"fmt"

	"github.com/atlas-desktop/portfolio-lab/pkg/types"
	"github.com/spf13/pflag"
)

// ConfigFlag names the flag holding the configuration file path.
const ConfigFlag = "config"

// FlagBindings maps configuration keys to command-line flag names.
type FlagBindings map[string]string

// LoadWithFlags is Load with command-line overrides. The file comes from the
// --config flag, and every key in bindings takes its flag's value when the
// flag was set. Flags beat the environment, which beats the file.
func LoadWithFlags(fs *pflag.FlagSet, bindings FlagBindings) (*types.Config, error) {
	v := New()
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			return nil, fmt.Errorf("no flag %q for key %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	if f := fs.Lookup(ConfigFlag); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return Decode(v)
}
