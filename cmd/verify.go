package cmd

import (
	"fmt"

	"github.com/encodeous/pimsm/core"
	"github.com/encodeous/pimsm/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the router config and prints it with defaults applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.ReadConfig(state.ConfigPath)
		if err != nil {
			return err
		}
		ps, err := state.NewPimState(cfg)
		if err != nil {
			return err
		}

		cfgYaml, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}

		fmt.Println("Config is valid")
		if ps.RP().IsValid() {
			fmt.Printf("rendezvous point %s, local: %v\n", ps.RP(), ps.IsRP())
		} else {
			fmt.Println("no rendezvous point configured, only source trees can be joined")
		}
		fmt.Println(string(cfgYaml))
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
