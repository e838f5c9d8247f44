package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/findit/internal/ui"
)

var joinCmd = &cobra.Command{
	Use:     "join <call-id>",
	Aliases: []string{"j"},
	Short:   "Join a call created by the other player",
	Long: `Join an existing call by its id and start playing.

Examples:
  findit join brave-otter-sings-loudly --frames ./snapshots
  findit join brave-otter-sings-loudly --server wss://findit.example.com/ws`,
	Args: cobra.ExactArgs(1),
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

		id := strings.TrimSpace(args[0])
		if err := p.Session.Join(ctx, id); err != nil {
			return err
		}
		ui.PrintSuccess("Joined call " + id)

		if err := p.WaitConnected(ctx, "Connecting to the other player..."); err != nil {
			return err
		}
		return p.Play(ctx)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addPlayerFlags(joinCmd.Flags())
}
