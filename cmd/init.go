package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/encodeous/pimsm/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a sample router configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			_ = cmd.Usage()
			return
		}

		name := args[0]
		err := state.NameValidator(name)
		if err != nil {
			fmt.Printf("Invalid name: %s\n", name)
			os.Exit(-1)
		}

		cfg := state.SampleConfig()
		cfg.Id = state.NodeId(name)
		if port, _ := cmd.Flags().GetUint16("port"); port != 0 {
			cfg.Port = port
		}

		out, err := yaml.Marshal(&cfg)
		if err != nil {
			panic(err)
		}

		outPath := cmd.Flag("output").Value.String()
		err = os.MkdirAll(path.Dir(outPath), 0700)
		if err != nil {
			panic(err)
		}
		err = os.WriteFile(outPath, out, 0600)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Wrote %s, edit the interfaces and rp_address before running\n", outPath)
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringP("output", "o", "config.yaml", "config output file path")
	newCmd.Flags().Uint16P("port", "p", uint16(state.DefaultPort), "UDP port to use")
}
