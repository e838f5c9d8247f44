package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/findit/internal/ui"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a call and wait for the other player",
	Long: `Create a new call on the document server and print its id. Share the id
with the other player, who runs "findit join <call-id>".

Examples:
  findit create --frames ./snapshots
  findit create --server wss://findit.example.com/ws --video cam.ivf --audio mic.ogg
  findit create --relay --turn turn:relay.example.com --turn-user me --turn-pass secret`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		p, err := NewPlayer(ctx, cfg)
		if err != nil {
			return err
		}
		defer p.Close()

		id, err := p.Session.Create(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(ui.CallInfoView(id))
		fmt.Println()

		if err := p.WaitConnected(ctx, "Waiting for the other player..."); err != nil {
			return err
		}
		return p.Play(ctx)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	addPlayerFlags(createCmd.Flags())
}
