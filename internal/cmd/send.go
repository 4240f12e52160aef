package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/certmail-lite/internal/merge"
	"github.com/shineum/certmail-lite/internal/table"
	"github.com/shineum/certmail-lite/internal/template"
)

var (
	templatePath string
	dataPath     string
	subject      string
	body         string
	bodyFile     string
	senderMail   string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Render and mail a certificate to every row of a CSV file",
	Long: `Send reads the recipient table and the template, renders one
certificate per row and mails it to the row's email column.

${column} placeholders in the subject and body are replaced per row.
The sender password is read from MAIL_PASSWORD. Press Ctrl-C to stop
after the row in flight.`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	addInputFlags(sendCmd)
	sendCmd.Flags().StringVarP(&subject, "subject", "s", "", "email subject")
	sendCmd.Flags().StringVarP(&body, "body", "b", "", "email body")
	sendCmd.Flags().StringVar(&bodyFile, "body-file", "", "read the email body from a file")
	sendCmd.Flags().StringVar(&senderMail, "sender", "", "sender address (default MAIL_USER)")
	sendCmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

// addInputFlags registers the template and data flags shared by send and render.
func addInputFlags(c *cobra.Command) {
	c.Flags().StringVarP(&templatePath, "template", "t", "", "template file (YAML or JSON)")
	c.Flags().StringVarP(&dataPath, "data", "d", "", "recipient table (CSV with a header row)")
	c.MarkFlagRequired("template")
	c.MarkFlagRequired("data")
}

// loadInputs reads the template and the recipient table.
func loadInputs() (*template.Template, *table.Table, error) {
	tpl, err := template.LoadFile(templatePath)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()
	tbl, err := table.ReadCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", dataPath, err)
	}
	return tpl, tbl, nil
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tpl, tbl, err := loadInputs()
	if err != nil {
		return err
	}
	if !tbl.HasColumn(table.EmailColumn) {
		return fmt.Errorf("%s has no %q column", dataPath, table.EmailColumn)
	}
	if bodyFile != "" {
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}

	out := cmd.OutOrStdout()
	rec, _ := newMetrics()
	driver, err := newDriver(ctx, cfg, rec, func(o merge.Outcome) {
		fmt.Fprintln(out, merge.FormatOutcome(o))
	})
	if err != nil {
		return err
	}

	res, err := driver.RunBatch(ctx, merge.Batch{
		Rows:     tbl.Rows,
		Columns:  tbl.Columns,
		Template: tpl,
		Subject:  subject,
		Body:     body,
		Sender:   merge.Sender{Address: senderMail},
	})
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Fprintln(out, "warning:", w)
	}
	fmt.Fprintln(out, res.Summary())
	if res.Failed() > 0 {
		return fmt.Errorf("%d of %d emails failed", res.Failed(), len(res.Outcomes))
	}
	return nil
}
