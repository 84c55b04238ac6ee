package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/blocadmin/blocadmin/internal/sheet"
)

// SheetSource supplies the data rendered into the printable table.
type SheetSource interface {
	GetSheet(ctx context.Context, id int64) (*sheet.Sheet, error)
	MaintenanceTable(ctx context.Context, id int64) ([]sheet.ReconciledRow, error)
}

// Handler serves the printable maintenance table, the sheet administrators
// pin on the notice board.
type Handler struct {
	client *Client
	sheets SheetSource
	logger *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, sheets SheetSource, logger *slog.Logger) *Handler {
	return &Handler{client: client, sheets: sheets, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/ping", h.ping)
	r.Get("/sheets/{id}/maintenance-table.pdf", h.sheetPDF)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) sheetPDF(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	sh, err := h.sheets.GetSheet(r.Context(), id)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	rows, err := h.sheets.MaintenanceTable(r.Context(), id)
	if err != nil {
		h.logger.Error("load maintenance table", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		return
	}

	html, err := renderSheetHTML(sh, rows)
	if err != nil {
		h.logger.Error("render sheet html", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	pdf, err := h.client.RenderSheetHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("render sheet pdf", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=intretinere-%s.pdf", sh.Month))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

var sheetTemplate = template.Must(template.New("sheet").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Lista de intretinere {{.Month}}</title>
<style>
body { font-family: sans-serif; font-size: 12px; }
h1 { font-size: 16px; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #444; padding: 4px 6px; text-align: right; }
th:first-child, td:first-child, td.owner { text-align: left; }
</style></head><body>
<h1>Lista de intretinere &mdash; {{.Month}}</h1>
<table>
<tr><th>Ap.</th><th>Proprietar</th><th>Pers.</th><th>Restante</th><th>Intretinere</th><th>Penalitati</th><th>Total datorat</th><th>Rest de plata</th></tr>
{{range .Rows}}
<tr>
<td>{{.BlockName}}/{{.StairName}}/{{.Number}}</td>
<td class="owner">{{.Owner}}</td>
<td>{{.Persons}}</td>
<td>{{.Restante}}</td>
<td>{{.CurrentMaintenance}}</td>
<td>{{.Penalitati}}</td>
<td>{{.TotalDatorat}}</td>
<td>{{.Remaining.Total}}</td>
</tr>
{{end}}
</table>
</body></html>`))

func renderSheetHTML(sh *sheet.Sheet, rows []sheet.ReconciledRow) (string, error) {
	var buf bytes.Buffer
	err := sheetTemplate.Execute(&buf, struct {
		Month string
		Rows  []sheet.ReconciledRow
	}{Month: sh.Month.String(), Rows: rows})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
