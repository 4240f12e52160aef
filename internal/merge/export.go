package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/certmail-lite/internal/mail"
	"github.com/shineum/certmail-lite/internal/render"
	"github.com/shineum/certmail-lite/internal/table"
	"github.com/shineum/certmail-lite/internal/template"
)

// Exported records where one row's image was saved.
type Exported struct {
	Row      int
	Name     string
	Location string
	Err      error
}

// ExportImages renders every row of rows and saves it through a without
// sending mail. Images are named after the row's email, or its position
// when the row has none. A failed row does not stop the export;
// cancelling ctx does.
func ExportImages(ctx context.Context, r render.Renderer, tpl *template.Template, rows []table.Row, a Archiver, logger *slog.Logger) ([]Exported, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := ScopeRenderer(r, tpl)
	if err != nil {
		return nil, err
	}

	out := make([]Exported, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		name := mail.AttachmentName(row.Email())
		if row.Email() == "" {
			name = fmt.Sprintf("image-row-%d.png", i+1)
		}
		e := Exported{Row: i, Name: name}

		img, err := RenderRow(r, tpl, row)
		if err == nil {
			e.Location, err = a.Save(ctx, name, img)
		}
		if err != nil {
			e.Err = err
			logger.Warn("export failed", "row", i, "name", name, "error", err)
		} else {
			logger.Info("image exported", "row", i, "location", e.Location)
		}
		out = append(out, e)
	}
	return out, nil
}
