package http

import (
	"bytes"
	"errors"
	"net/http"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

const (
	uiMsgInvalid     = "Invalid request data"
	uiMsgUnavailable = "Could not save the expense. Please retry in a few seconds."
	uiMsgLoadFailed  = "Could not load expenses. Please retry in a few seconds."
)

type indexView struct {
	Form       ExpenseForm
	Error      string
	Categories []string
	Selected   string
	Total      string
	Count      int
	Summary    []summaryRow
	Items      []itemRow
}

type summaryRow struct {
	Name   string
	Amount string
	Count  int
}

type itemRow struct {
	Date        string
	Category    string
	Description string
	Amount      string
}

// handleIndex renders the form and the list, filtered by ?category=.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	form := ExpenseForm{Date: today(), IdempotencyKey: newFormKey()}
	s.renderIndex(w, r, http.StatusOK, form, "", sanitizeInput(r.URL.Query().Get("category")))
}

// handleSubmitForm creates an expense from the UI form and redirects back
// to the list. On failure the form is rendered again with the same
// idempotency key so a resubmission cannot create a second row.
func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		logger.InfoContext(ctx, "Parse form error", log.FieldError, err)
		s.renderIndex(w, r, http.StatusBadRequest, ExpenseForm{Date: today(), IdempotencyKey: newFormKey()}, uiMsgInvalid, "")
		return
	}

	form := ParseExpenseForm(r.PostForm)
	if form.IdempotencyKey == "" {
		form.IdempotencyKey = newFormKey()
	}

	in, err := form.ToNewExpense()
	if err != nil {
		logger.InfoContext(ctx, "Rejected form submission",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeValidation)
		s.renderIndex(w, r, http.StatusBadRequest, form, uiMsgInvalid, "")
		return
	}

	e, created, err := s.service.Create(ctx, in)
	if err != nil {
		if errors.Is(err, core.ErrInvalidRequest) {
			s.renderIndex(w, r, http.StatusBadRequest, form, uiMsgInvalid, "")
			return
		}
		logger.ErrorContext(ctx, "Failed to save expense from form",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeDatabase,
			log.FieldIdempotencyKey, in.IdempotencyKey)
		s.renderIndex(w, r, http.StatusInternalServerError, form, uiMsgUnavailable, "")
		return
	}

	if created {
		s.metrics.created.Add(1)
	} else {
		s.metrics.replayed.Add(1)
	}
	logger.DebugContext(ctx, "Form submission stored",
		log.FieldExpenseID, e.ID,
		log.FieldReplay, !created)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request, status int, form ExpenseForm, msg, category string) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	view := indexView{Form: form, Error: msg, Selected: category}

	all, err := s.service.List(ctx, core.ListFilter{Sort: core.SortDateDesc})
	if err != nil {
		logger.ErrorContext(ctx, "List expenses error",
			log.FieldError, err,
			log.FieldOperation, log.OpList)
		if view.Error == "" {
			view.Error = uiMsgLoadFailed
		}
		all = nil
	}
	s.fillListView(&view, all)

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "index.html", view); err != nil {
		logger.ErrorContext(ctx, "Index template execution failed",
			log.FieldError, err,
			log.FieldComponent, log.ComponentTemplate,
			log.FieldOperation, log.OpRender)
		http.Error(w, msgInternalError, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// fillListView derives the filter options from every expense and the
// total, summary and rows from the visible ones.
func (s *Server) fillListView(view *indexView, all []core.Expense) {
	view.Categories = core.Categories(all)

	filter := core.ListFilter{Category: view.Selected}
	visible := make([]core.Expense, 0, len(all))
	for _, e := range all {
		if filter.Matches(e) {
			visible = append(visible, e)
		}
	}

	sum := core.Summarize(visible)
	view.Total = sum.Total.Format(s.currency)
	view.Count = sum.Count
	for _, c := range sum.ByCategory {
		view.Summary = append(view.Summary, summaryRow{
			Name:   c.Name,
			Amount: c.Amount.Format(s.currency),
			Count:  c.Count,
		})
	}
	for _, e := range visible {
		view.Items = append(view.Items, itemRow{
			Date:        e.Date.String(),
			Category:    e.Category,
			Description: e.Description,
			Amount:      e.Amount.Format(s.currency),
		})
	}
}
