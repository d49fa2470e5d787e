package cmd

import (
	"os"

	"github.com/encodeous/pimsm/state"
	"github.com/goccy/go-yaml"
)

// readSocketConfig returns the control socket of the router config, without
// requiring the rest of the config to be valid
func readSocketConfig() (string, error) {
	var cfg state.LocalCfg
	file, err := os.ReadFile(state.ConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return state.DefaultCtlSocket, nil
		}
		return "", err
	}
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return "", err
	}
	state.ExpandLocalConfig(&cfg)
	return cfg.CtlSocket, nil
}
