package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/linkchat/internal/db"
	"github.com/rudransh-shrivastava/linkchat/internal/store"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history path/to/history.db",
	Short: "list received transfers",
	Long:  `lists the transfers journalled by "linkchat run --history-db", newest first`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return err
		}

		gdb, err := db.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		transfers, err := store.NewTransferStore(gdb).ListTransfers(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(transfers) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "no transfers recorded")
			return err
		}

		data := pterm.TableData{{"Finished", "From", "ID", "File", "Size", "Status"}}
		for _, t := range transfers {
			data = append(data, []string{
				t.FinishedAt.Local().Format(time.DateTime),
				t.Sender,
				t.TransferID,
				t.Filename,
				fmt.Sprintf("%d/%d", t.ReceivedSize, t.DeclaredSize),
				transferStatus(t.Complete, t.ExtractedTo),
			})
		}

		out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func transferStatus(complete bool, extractedTo string) string {
	switch {
	case !complete:
		return "incomplete"
	case extractedTo != "":
		return "extracted to " + extractedTo
	default:
		return "complete"
	}
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of transfers to show (0 for all)")
}
