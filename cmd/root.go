package cmd

import (
	"os"

	"github.com/encodeous/pimsm/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pimsm",
	Short: "PIM Sparse-Mode multicast router",
	Long: `pimsm runs the PIM Sparse-Mode protocol on the configured interfaces.
It builds shared trees rooted at a rendezvous point, switches to source trees when traffic warrants it, and tunnels data from first-hop routers to the RP with registers.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configuration",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "pim",
		Title: "Router Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.ConfigPath, "config", "c", state.ConfigPath, "router config")
}
