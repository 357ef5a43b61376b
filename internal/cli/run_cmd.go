package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/linkchat/internal/config"
	"github.com/rudransh-shrivastava/linkchat/internal/db"
	"github.com/rudransh-shrivastava/linkchat/internal/node"
	"github.com/rudransh-shrivastava/linkchat/internal/store"
	"github.com/rudransh-shrivastava/linkchat/internal/transfer"
	"github.com/spf13/cobra"
)

var runCfg = config.Default()

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start a node and open the console",
	Long: `starts a node on the chosen interface, announces it every few seconds and
opens an interactive console; type "help" in the console for its commands`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		runCfg.Debug = debug

		if err := runCfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		var journal transfer.Journal
		if runCfg.HistoryDB != "" {
			gdb, err := db.Open(runCfg.HistoryDB)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(gdb) }()
			journal = store.NewTransferStore(gdb)
		}

		var progress io.Writer
		if runCfg.Progress {
			progress = os.Stderr
		}

		console := NewConsole(os.Stdout)
		n, err := node.New(node.Options{
			Interface:        runCfg.Interface,
			Name:             runCfg.Name,
			NodeID:           runCfg.NodeID,
			OutputDir:        runCfg.OutputDir,
			AnnounceInterval: runCfg.AnnounceInterval,
			PeerTTL:          runCfg.PeerTTL,
			SessionTimeout:   runCfg.SessionTimeout,
			Messages:         console,
			Journal:          journal,
			ProgressOutput:   progress,
			Logger:           log,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := n.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = n.Stop() }()

		console.Attach(n)
		return console.Run(ctx, os.Stdin)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runCfg.Interface, "interface", "i", runCfg.Interface, "network interface (auto-detected when empty)")
	f.StringVarP(&runCfg.Name, "name", "n", runCfg.Name, "name announced to peers")
	f.StringVar(&runCfg.OutputDir, "output-dir", runCfg.OutputDir, "directory received files are written to")
	f.DurationVar(&runCfg.AnnounceInterval, "announce-interval", runCfg.AnnounceInterval, "time between announcements")
	f.DurationVar(&runCfg.PeerTTL, "peer-ttl", runCfg.PeerTTL, "forget peers silent for this long (0 keeps them)")
	f.DurationVar(&runCfg.SessionTimeout, "session-timeout", runCfg.SessionTimeout, "close receives idle for this long (0 disables)")
	f.StringVar(&runCfg.HistoryDB, "history-db", runCfg.HistoryDB, "SQLite file to journal received transfers to")
	f.BoolVar(&runCfg.Progress, "progress", runCfg.Progress, "show a progress bar while sending")
}
