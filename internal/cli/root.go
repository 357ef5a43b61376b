// Package cli implements the linkchat command tree.
package cli

import (
	"github.com/rudransh-shrivastava/linkchat/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "linkchat",
	Short: "chat and file transfer over raw ethernet",
	Long: `linkchat discovers peers on the local ethernet segment and exchanges
messages, files and folders with them using its own EtherType (0x88B5).
It needs CAP_NET_RAW, usually root.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.NewLogger().Fatal(err)
	}
}

func newLogger() *logrus.Logger {
	log := logger.NewLogger()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(historyCmd)
}
