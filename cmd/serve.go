package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/findit/internal/config"
	"github.com/BioHazard786/findit/internal/docserver"
	"github.com/BioHazard786/findit/internal/sqlstore"
	"github.com/BioHazard786/findit/internal/store"
)

var serveOpts config.ServerOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document server both players connect to",
	Long: `Run the websocket document server that carries call signaling, scores and
words between the two players. Documents are journaled to SQLite by default so
calls survive a restart.

Examples:
  findit serve
  findit serve --port 9000 --origin https://findit.example.com
  findit serve --db postgres --db-dsn postgres://findit@localhost/findit?sslmode=disable
  findit serve --db none`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(serveOpts)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Server) error {
	opts := []store.Option{store.WithIDFunc(docserver.NewID)}
	if cfg.Journaled() {
		journal, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		opts = append(opts, store.WithJournal(journal))
	}

	st := store.NewMemory(opts...)
	defer st.Close()

	n, err := st.Restore(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("driver", cfg.DBDriver).Int("documents", n).Msg("journal restored")

	return docserver.Serve(ctx, docserver.Config{
		Bind:           cfg.Bind,
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
	}, st)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	fs := serveCmd.Flags()
	fs.StringVarP(&serveOpts.Bind, "bind", "b", config.DefaultBind, "address to bind to (env: FINDIT_BIND)")
	fs.IntVarP(&serveOpts.Port, "port", "p", config.DefaultPort, "port to listen on (env: FINDIT_PORT)")
	fs.StringSliceVar(&serveOpts.AllowedOrigins, "origin", nil, "allowed websocket origins, all when empty (env: FINDIT_ORIGIN)")
	fs.StringVar(&serveOpts.DBDriver, "db", config.DefaultDBDriver, "journal driver: sqlite, postgres or none (env: FINDIT_DB)")
	fs.StringVar(&serveOpts.DBDSN, "db-dsn", "", "journal path or connection string (env: FINDIT_DB_DSN)")
}
