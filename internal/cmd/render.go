package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/certmail-lite/internal/merge"
	"github.com/shineum/certmail-lite/internal/table"
)

var outDir string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Export the personalised images without sending mail",
	Long: `Render writes one PNG per row, named image-<email>.png, to the
output directory, or to the S3 bucket configured with EXPORT_S3_* when
no directory is given.`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	addInputFlags(renderCmd)
	renderCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default EXPORT_DIR)")
}

func runRender(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tpl, tbl, err := loadInputs()
	if err != nil {
		return err
	}
	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}
	exporter, err := newExporter(cfg, outDir)
	if err != nil {
		return err
	}

	if !tbl.HasColumn(table.EmailColumn) {
		logger.Warn("data has no email column, naming images by row", "data", dataPath)
	}
	for _, f := range tpl.StaleFields(tbl.Columns) {
		logger.Warn("field bound to unknown column", "field", f.ID, "column", f.Column)
	}

	exported, err := merge.ExportImages(ctx, renderer, tpl, tbl.Rows, exporter, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, e := range exported {
		if e.Err != nil {
			failed++
			fmt.Fprintf(out, "row %d: %s: %v\n", e.Row+1, e.Name, e.Err)
			continue
		}
		fmt.Fprintln(out, e.Location)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(exported))
	}
	return nil
}
