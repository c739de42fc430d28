package command

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ankith2004ahms/video-calling/internal/ui"
	"github.com/ankith2004ahms/video-calling/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "videocall",
	Short:   "Two-party video calls from the terminal using WebRTC",
	Long: `videocall is a command-line client for two-party video calls over WebRTC.
It connects to a signaling relay, joins a named room and negotiates a direct
peer connection with the other occupant. Calls are started explicitly; joining
a room never rings anyone.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
