package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallbiznis/nfsync/internal/clock"
	invoicedomain "github.com/smallbiznis/nfsync/internal/invoice/domain"
	"github.com/smallbiznis/nfsync/internal/nfxml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type extractOutput struct {
	Format           string                `json:"format"`
	Defaulted        []string              `json:"defaulted_fields"`
	IssuerName       string                `json:"issuer_name,omitempty"`
	CounterpartyName string                `json:"counterparty_name,omitempty"`
	Record           *invoicedomain.Record `json:"record"`
}

func extractCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "extract [file.xml]",
		Short: "Print the record a document would produce, without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			doc, err := nfxml.Parse(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			log := zap.NewNop()
			if verbose {
				if log, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			out := nfxml.NewExtractor(clock.System(), log).Extract(doc, filepath.Base(args[0]))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(extractOutput{
				Format:           out.Format.String(),
				Defaulted:        out.Defaulted,
				IssuerName:       out.IssuerName,
				CounterpartyName: out.CounterpartyName,
				Record:           out.Record,
			})
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log extraction details to stderr")
	return cmd
}
