package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/certmail-lite/internal/table"
)

var (
	tableOut     string
	tableColumns []string
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Write an empty recipient table to fill in",
	Long: `Table writes a CSV header with the default columns (email, var1,
var2) plus any --column given. Without --out it prints to stdout.`,
	Args: cobra.NoArgs,
	RunE: runTable,
}

func init() {
	tableCmd.Flags().StringVarP(&tableOut, "out", "o", "", "output CSV file (default stdout)")
	tableCmd.Flags().StringSliceVar(&tableColumns, "column", nil, "extra column (repeatable)")
}

func runTable(cmd *cobra.Command, _ []string) error {
	tbl := table.New()
	for _, c := range tableColumns {
		tbl.AddColumn(c)
	}

	var w io.Writer = cmd.OutOrStdout()
	if tableOut != "" {
		f, err := os.Create(tableOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", tableOut, err)
		}
		defer f.Close()
		w = f
	}
	if err := tbl.WriteCSV(w); err != nil {
		return err
	}
	logger.Debug("table written", "columns", tbl.Columns, "out", tableOut)
	return nil
}
