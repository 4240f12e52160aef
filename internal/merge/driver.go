// Package merge drives a batch: for each row it substitutes the row into
// the template, renders the certificate and dispatches one message to
// the row's recipient, recording a per-row outcome.
package merge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shineum/certmail-lite/internal/dispatch"
	"github.com/shineum/certmail-lite/internal/mail"
	"github.com/shineum/certmail-lite/internal/metrics"
	"github.com/shineum/certmail-lite/internal/render"
	"github.com/shineum/certmail-lite/internal/table"
	"github.com/shineum/certmail-lite/internal/template"
)

var tracer = otel.Tracer("github.com/shineum/certmail-lite/internal/merge")

// Sender identifies the account a batch is sent from.
type Sender struct {
	Address  string
	Password string
}

// Batch is the input of one run.
type Batch struct {
	Rows     []table.Row
	Columns  []string
	Template *template.Template
	Subject  string
	Body     string
	Sender   Sender
}

// templateRenderer is implemented by renderers that can load the fonts
// shipped with a template.
type templateRenderer interface {
	ForTemplate(t *template.Template) (render.Renderer, error)
}

// Archiver stores a copy of each rendered image.
type Archiver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Options configures a Driver.
type Options struct {
	// DefaultSender stands in for an empty batch sender during
	// validation. The transport applies its own defaults.
	DefaultSender Sender

	// PasswordOptional skips the sender credential check for transports
	// that do not log in as the sender.
	PasswordOptional bool

	// SendTimeout bounds each dispatch. Zero means no limit.
	SendTimeout time.Duration

	Archive  Archiver
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	Progress func(Outcome)
}

// Driver runs batches one at a time.
type Driver struct {
	renderer render.Renderer
	client   dispatch.Client
	opts     Options
	logger   *slog.Logger
	busy     atomic.Bool
}

// NewDriver creates a Driver rendering with r and sending through c.
func NewDriver(r render.Renderer, c dispatch.Client, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{renderer: r, client: c, opts: opts, logger: logger}
}

// RenderRow substitutes row into tpl and renders it.
func RenderRow(r render.Renderer, tpl *template.Template, row table.Row) ([]byte, error) {
	return r.Render(tpl.Image, template.SubstituteFields(tpl.Fields, row), tpl.Width, tpl.Height)
}

// RunBatch processes b.Rows in order and returns one outcome per row.
// Rows are independent: a failed row is recorded and the batch goes on.
// Cancelling ctx stops the batch before the next row; a send already in
// flight completes. ErrBusy and *ValidationError are returned before
// anything is sent.
func (d *Driver) RunBatch(ctx context.Context, b Batch) (*Result, error) {
	if !d.busy.CompareAndSwap(false, true) {
		d.opts.Metrics.Batch("rejected")
		return nil, ErrBusy
	}
	defer d.busy.Store(false)

	if err := d.validate(b); err != nil {
		d.opts.Metrics.Batch("rejected")
		return nil, err
	}

	renderer, err := ScopeRenderer(d.renderer, b.Template)
	if err != nil {
		d.opts.Metrics.Batch("rejected")
		return nil, err
	}

	columns := b.Columns
	if len(columns) == 0 {
		columns = columnsOf(b.Rows)
	}

	res := &Result{
		BatchID:  uuid.NewString(),
		Outcomes: make([]Outcome, 0, len(b.Rows)),
	}
	for _, f := range b.Template.StaleFields(columns) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("field %d is bound to unknown column %q and renders empty", f.ID, f.Column))
	}

	logger := d.logger.With("batch", res.BatchID)
	logger.Info("batch started", "rows", len(b.Rows))

	for i, row := range b.Rows {
		var o Outcome
		if ctx.Err() != nil {
			o = Outcome{Row: i, Email: row.Email(), Status: StatusCancelled, Err: ErrCancelled}
		} else {
			o = d.runRow(ctx, logger, renderer, b, columns, i, row)
		}
		if o.Err != nil {
			o.Error = o.Err.Error()
		}
		d.opts.Metrics.Row(string(o.Status))
		res.Outcomes = append(res.Outcomes, o)
		if d.opts.Progress != nil {
			d.opts.Progress(o)
		}
	}

	result := "completed"
	if res.Cancelled() > 0 {
		result = "cancelled"
	}
	d.opts.Metrics.Batch(result)
	logger.Info("batch finished",
		"sent", res.Sent(),
		"failed", res.Failed(),
		"cancelled", res.Cancelled(),
	)
	return res, nil
}

// Busy reports whether a batch is running.
func (d *Driver) Busy() bool {
	return d.busy.Load()
}

func (d *Driver) validate(b Batch) error {
	var missing []string
	if b.Template == nil {
		missing = append(missing, "template")
	}
	if b.Subject == "" {
		missing = append(missing, "subject")
	}
	if b.Body == "" {
		missing = append(missing, "body")
	}
	if cmp.Or(b.Sender.Address, d.opts.DefaultSender.Address) == "" {
		missing = append(missing, "sender address")
	}
	if !d.opts.PasswordOptional && cmp.Or(b.Sender.Password, d.opts.DefaultSender.Password) == "" {
		missing = append(missing, "sender credential")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

func (d *Driver) runRow(ctx context.Context, logger *slog.Logger, r render.Renderer, b Batch, columns []string, i int, row table.Row) Outcome {
	ctx, span := tracer.Start(ctx, "merge.Row")
	defer span.End()

	recipient := row.Email()
	span.SetAttributes(attribute.Int("row", i), attribute.String("recipient", recipient))

	o := d.sendRow(ctx, r, b, columns, i, row)
	span.SetAttributes(attribute.String("status", string(o.Status)))

	if o.Err != nil {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
		logger.Warn("recipient failed", "email", recipient, "row", i, "error", o.Err)
	} else {
		logger.Info("recipient sent", "email", recipient, "row", i, "message_id", o.MessageID)
	}
	return o
}

func (d *Driver) sendRow(ctx context.Context, r render.Renderer, b Batch, columns []string, i int, row table.Row) Outcome {
	recipient := row.Email()
	o := Outcome{Row: i, Email: recipient, Status: StatusFailed}
	if recipient == "" {
		o.Err = ErrNoRecipient
		return o
	}

	start := time.Now()
	img, err := RenderRow(r, b.Template, row)
	d.opts.Metrics.Render(time.Since(start))
	if err != nil {
		o.Err = err
		return o
	}

	if d.opts.Archive != nil {
		if _, err := d.opts.Archive.Save(ctx, mail.AttachmentName(recipient), img); err != nil {
			d.logger.Warn("archive failed", "email", recipient, "row", i, "error", err)
		}
	}

	msg := &mail.Message{
		Subject:        template.SubstituteText(b.Subject, columns, row),
		Body:           template.SubstituteText(b.Body, columns, row),
		SenderMail:     b.Sender.Address,
		SenderPassword: b.Sender.Password,
		RecipientMail:  recipient,
		Attachments:    []mail.Attachment{mail.ImageAttachment(recipient, img)},
	}

	sendCtx := context.WithoutCancel(ctx)
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, d.opts.SendTimeout)
		defer cancel()
	}

	start = time.Now()
	receipt, err := d.client.Send(sendCtx, msg)
	if err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, d.opts.SendTimeout, err)
		}
		d.opts.Metrics.Dispatch(string(StatusFailed), time.Since(start))
		o.Err = err
		return o
	}
	d.opts.Metrics.Dispatch(string(StatusSent), time.Since(start))

	o.Status = StatusSent
	o.MessageID = receipt.MessageID
	return o
}

// ScopeRenderer returns r extended with the fonts shipped with t, when r
// supports it.
func ScopeRenderer(r render.Renderer, t *template.Template) (render.Renderer, error) {
	if tr, ok := r.(templateRenderer); ok {
		return tr.ForTemplate(t)
	}
	return r, nil
}

// columnsOf returns the sorted union of the rows' keys.
func columnsOf(rows []table.Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}

// FormatOutcome renders o as a one-line notice.
func FormatOutcome(o Outcome) string {
	row := "row " + strconv.Itoa(o.Row+1)
	switch o.Status {
	case StatusSent:
		return fmt.Sprintf("%s: sent to %s", row, o.Email)
	case StatusCancelled:
		return fmt.Sprintf("%s: cancelled", row)
	default:
		return fmt.Sprintf("%s: failed for %s: %s", row, cmp.Or(o.Email, "(no email)"), o.Error)
	}
}
