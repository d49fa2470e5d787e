package cmd

import (
	"github.com/encodeous/pimsm/core"
	"github.com/encodeous/pimsm/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router",
	Long:  `This will run pimsm on the current host. PIM messages are exchanged over UDP on the configured port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		metricsAddr, _ := cmd.Flags().GetString("metrics")
		return core.Bootstrap(state.ConfigPath, logPath, metricsAddr, verbose)
	},
	GroupID: "pim",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().String("log", "", "Also write logs to this file")
	runCmd.Flags().String("metrics", "", "Serve prometheus metrics on this address, e.g. 127.0.0.1:9103")
	runCmd.Flags().BoolVarP(&state.DBG_log_route_events, "lroute", "r", false, "Write route events to the console")
	runCmd.Flags().BoolVarP(&state.DBG_log_route_table, "ltable", "t", false, "Outputs route table to the console")
	runCmd.Flags().BoolVarP(&state.DBG_log_packets, "lpacket", "p", false, "Write sent and received packets to the debug log")
	runCmd.Flags().BoolVar(&state.DBG_trace, "trace", false, "Write a runtime trace to trace.out")
	runCmd.Flags().BoolVar(&state.DBG_debug, "pprof", false, "Serve pprof on 0.0.0.0:6060")
}
