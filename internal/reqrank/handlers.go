// SPDX-License-Identifier: MIT

package reqrank

import (
	"embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/umlgrade/umlgrade/internal/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the requirement ranking pages.
type Handler struct {
	store     *Store
	templates *template.Template
	basePath  string
}

// NewHandler creates the handler. basePath is the mount prefix on the parent
// router, e.g. "/reqrank".
func NewHandler(store *Store, basePath string) (*Handler, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"wsjf": func(r *Requirement) string { return fmt.Sprintf("%.2f", r.WSJF()) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handler{store: store, templates: tmpl, basePath: basePath}, nil
}

// Routes returns the chi router for mounting.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, h.basePath+"/requirements", http.StatusSeeOther)
	})
	r.Get("/requirements", h.handleList)
	r.Get("/requirements/new", h.handleNewForm)
	r.Post("/requirements/new", h.handleCreate)
	r.Get("/requirements/{id}/edit", h.handleEditForm)
	r.Post("/requirements/{id}/edit", h.handleUpdate)
	r.Post("/requirements/{id}/delete", h.handleDelete)
	r.Get("/analysis", h.handleAnalysis)
	r.Get("/export/csv", h.handleExportCSV)
	r.Post("/seed", h.handleSeed)
	return r
}

type listPage struct {
	Base   string
	Items  []*Requirement
	Query  string
	Status string
	MoSCoW string
	Sort   string
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	items, err := h.store.List(r.Context(), f)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, "list.html", listPage{
		Base:   h.basePath,
		Items:  items,
		Query:  f.Query,
		Status: f.Status,
		MoSCoW: f.MoSCoW,
		Sort:   f.Sort,
	})
}

type editPage struct {
	Base string
	Item *Requirement
}

func (h *Handler) handleNewForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "edit.html", editPage{Base: h.basePath})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := requirementFromForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.store.Create(r.Context(), req); err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, h.basePath+"/requirements", http.StatusSeeOther)
}

func (h *Handler) handleEditForm(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadRequirement(w, r)
	if !ok {
		return
	}
	h.render(w, r, "edit.html", editPage{Base: h.basePath, Item: item})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadRequirement(w, r)
	if !ok {
		return
	}
	req, err := requirementFromForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.ID = item.ID
	req.CreatedAt = item.CreatedAt
	if err := h.store.Update(r.Context(), req); err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, h.basePath+"/requirements", http.StatusSeeOther)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, h.basePath+"/requirements", http.StatusSeeOther)
}

type analysisPage struct {
	Base      string
	Items     []*Requirement
	Counts    map[string]int
	ChartData template.JS
}

type chartEntry struct {
	Title     string `json:"title"`
	MoSCoW    string `json:"moscow"`
	Effort    int    `json:"effort"`
	ValueSum  int    `json:"value_sum"`
	RiskLevel int    `json:"risk_level"`
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context(), Filter{Sort: "wsjf"})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	counts, err := h.store.CountByMoSCoW(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	entries := make([]chartEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, chartEntry{
			Title:     item.Title,
			MoSCoW:    item.MoSCoW,
			Effort:    item.Effort,
			ValueSum:  item.BusinessValue + item.TimeCriticality + item.RiskReduction,
			RiskLevel: item.RiskLevel,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	h.render(w, r, "analysis.html", analysisPage{
		Base:      h.basePath,
		Items:     items,
		Counts:    counts,
		ChartData: template.JS(data), // #nosec G203 -- marshaled from typed structs
	})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	f.Sort = ""
	items, err := h.store.List(r.Context(), f)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reqrank.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "title", "moscow", "business_value", "time_criticality",
		"risk_reduction", "effort", "wsjf", "status", "assignee"})
	for _, item := range items {
		_ = cw.Write([]string{
			strconv.FormatInt(item.ID, 10),
			item.Title,
			item.MoSCoW,
			strconv.Itoa(item.BusinessValue),
			strconv.Itoa(item.TimeCriticality),
			strconv.Itoa(item.RiskReduction),
			strconv.Itoa(item.Effort),
			fmt.Sprintf("%.2f", item.WSJF()),
			item.Status,
			item.Assignee,
		})
	}
	cw.Flush()
}

func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Seed(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "reqrank")
	logger.Info().
		Str("event", "reqrank.seeded").Int("count", n).Msg("demo data inserted")
	http.Redirect(w, r, h.basePath+"/requirements", http.StatusSeeOther)
}

func (h *Handler) loadRequirement(w http.ResponseWriter, r *http.Request) (*Requirement, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return nil, false
		}
		h.renderError(w, r, err)
		return nil, false
	}
	return item, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "reqrank")
		logger.Error().
			Err(err).Str("template", name).Msg("template execution failed")
	}
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.WithComponentFromContext(r.Context(), "reqrank")
	logger.Error().
		Err(err).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	return Filter{
		Query:  q.Get("q"),
		Status: q.Get("status"),
		MoSCoW: q.Get("moscow"),
		Sort:   q.Get("sort"),
	}
}

func requirementFromForm(r *http.Request) (*Requirement, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	title := r.PostFormValue("title")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	return &Requirement{
		Title:           title,
		Description:     r.PostFormValue("description"),
		Category:        r.PostFormValue("category"),
		MoSCoW:          r.PostFormValue("moscow"),
		BusinessValue:   formInt(r, "business_value", 5),
		TimeCriticality: formInt(r, "time_criticality", 5),
		RiskReduction:   formInt(r, "risk_reduction", 5),
		Effort:          formInt(r, "effort", 5),
		RiskLevel:       formInt(r, "risk_level", 3),
		Assignee:        r.PostFormValue("assignee"),
		Status:          r.PostFormValue("status"),
	}, nil
}

func formInt(r *http.Request, key string, fallback int) int {
	raw := r.PostFormValue(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
