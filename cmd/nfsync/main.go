package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/nfsync/internal/clock"
	"github.com/smallbiznis/nfsync/internal/config"
	"github.com/smallbiznis/nfsync/internal/ingestion"
	"github.com/smallbiznis/nfsync/internal/invoice"
	"github.com/smallbiznis/nfsync/internal/lock"
	"github.com/smallbiznis/nfsync/internal/migration"
	"github.com/smallbiznis/nfsync/internal/nfxml"
	"github.com/smallbiznis/nfsync/internal/observability"
	"github.com/smallbiznis/nfsync/internal/remotestore"
	"github.com/smallbiznis/nfsync/internal/server"
	"github.com/smallbiznis/nfsync/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "nfsync",
		Short:        "Ingest NFS-e and NFe XML documents from a remote directory",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runOnceCmd())
	rootCmd.AddCommand(extractCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// coreModules wires everything a run needs: storage, the remote store and
// the scheduler, without starting the loop or the HTTP server.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		invoice.Module,
		nfxml.Module,
		remotestore.Module,
		lock.Module,
		ingestion.Module,
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the polling loop and the ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				server.Module,
				ingestion.LoopModule,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
