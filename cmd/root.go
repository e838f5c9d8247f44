package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/findit/internal/config"
	"github.com/BioHazard786/findit/internal/ui"
	"github.com/BioHazard786/findit/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "findit",
	Short: "Two-player spot-the-object game over a WebRTC video call",
	Long: `FindIt connects two players on a live video call. Each round both players
get the same word and race to show that object to their camera. A classifier
service checks the frames and the first match scores the round.

One player creates a call and shares its id, the other joins it. Both talk to
a document server started with "findit serve".`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindEnv(cmd.Flags())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetVersionTemplate("findit v{{.Version}}\n")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
