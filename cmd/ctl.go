package cmd

import (
	"os"
	"strings"

	"github.com/encodeous/pimsm/core"
	"github.com/spf13/cobra"
)

func ctlSocket(cmd *cobra.Command) (string, error) {
	if s, _ := cmd.Flags().GetString("socket"); s != "" {
		return s, nil
	}
	return readSocketConfig()
}

func ctlRun(cmd *cobra.Command, line string) error {
	socket, err := ctlSocket(cmd)
	if err != nil {
		return err
	}
	return core.CtlRequest(socket, line, os.Stdout)
}

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Aliases: []string{"i"},
	Short:   "Prints the multicast routing table of the running router",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctlRun(cmd, "inspect")
	},
	GroupID: "pim",
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Streams route events from the running router",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctlRun(cmd, "watch")
	},
	GroupID: "pim",
}

var ctlCmd = &cobra.Command{
	Use:   "ctl <command> [args...]",
	Short: "Sends a command to the running router",
	Long: `Sends a command to the control socket of the running router.

  join <group> <interface>              a local receiver joined group
  leave <group> <interface>             the last local receiver left group
  source <source> <group> <interface>   a directly connected source started sending
  data <source> <group> [payload]       a directly connected source sent a packet`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctlRun(cmd, strings.Join(args, " "))
	},
	GroupID: "pim",
}

func init() {
	for _, c := range []*cobra.Command{inspectCmd, watchCmd, ctlCmd} {
		c.Flags().StringP("socket", "s", "", "control socket, defaults to the one in the router config")
		rootCmd.AddCommand(c)
	}
}
