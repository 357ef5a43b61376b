package cli

import (
	"fmt"
	"net"
	"strings"

	"github.com/pterm/pterm"
	"github.com/rudransh-shrivastava/linkchat/internal/netif"
	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "list interfaces a node can bind to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		candidates, err := netif.Candidates()
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return netif.ErrNoInterface
		}

		out, err := pterm.DefaultTable.WithHasHeader().WithData(interfaceTable(candidates)).Srender()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func interfaceTable(ifs []net.Interface) pterm.TableData {
	data := pterm.TableData{{"Name", "Address", "MTU", "Flags"}}
	for i, ifi := range ifs {
		name := ifi.Name
		if i == 0 {
			name += " (default)"
		}
		data = append(data, []string{
			name,
			ifi.HardwareAddr.String(),
			fmt.Sprint(ifi.MTU),
			strings.ReplaceAll(ifi.Flags.String(), "|", ","),
		})
	}
	return data
}
