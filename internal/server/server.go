package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"librarian/internal/app"
	"librarian/internal/ratelimit"
	"librarian/internal/store"
	"librarian/internal/util"
	"librarian/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                    *app.App
	RedisAddr              string
	RedisPassword          string
	LoanRateLimitPerMinute int
	TrustedProxyCIDRs      []string
}

// Server exposes the REST surface over books, users, and loans.
type Server struct {
	app         *app.App
	mux         *http.ServeMux
	loanLimiter *ratelimit.FixedWindowLimiter
	trusted     *util.TrustedProxies
}

// New constructs the server with routes configured. Loan mutations are
// rate limited per client IP when a Redis address is supplied.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:     cfg.App,
		mux:     http.NewServeMux(),
		trusted: trusted,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		limit := cfg.LoanRateLimitPerMinute
		if limit <= 0 {
			limit = 30
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "librarian:ratelimit:loans", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init loan limiter: %w", err)
		}
		s.loanLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("librarian", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBookByID)
	s.mux.HandleFunc("/users", s.handleUsers)
	s.mux.HandleFunc("/users/", s.handleUserByID)
	s.mux.HandleFunc("/loans", s.handleLoans)
	s.mux.HandleFunc("/loans/", s.handleLoanByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bookRequest struct {
	Title         string      `json:"title"`
	Author        string      `json:"author"`
	ISBN          string      `json:"isbn"`
	PublishedDate domain.Date `json:"publishedDate"`
	Status        string      `json:"status,omitempty"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req bookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		book, err := s.app.CreateBook(req.Title, req.Author, req.ISBN, req.PublishedDate)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		books, err := s.app.ListBooks()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r.URL.Path, "/books/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		var req bookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		status := domain.BookStatus(req.Status)
		if req.Status == "" {
			current, err := s.app.GetBook(id)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			status = current.Status
		}
		book, err := s.app.UpdateBook(domain.Book{
			ID:            id,
			Title:         req.Title,
			Author:        req.Author,
			ISBN:          req.ISBN,
			PublishedDate: req.PublishedDate,
			Status:        status,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type userRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		user, err := s.app.CreateUser(req.Name, req.Email, domain.UserRole(req.Role))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case http.MethodGet:
		users, err := s.app.ListUsers()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r.URL.Path, "/users/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetUser(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		user, err := s.app.UpdateUser(domain.User{
			ID:    id,
			Name:  req.Name,
			Email: req.Email,
			Role:  domain.UserRole(req.Role),
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.DeleteUser(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type issueLoanRequest struct {
	UserID     uint         `json:"userId"`
	BookID     uint         `json:"bookId"`
	LoanDate   *domain.Date `json:"loanDate,omitempty"`
	ReturnDate *domain.Date `json:"returnDate,omitempty"`
}

type returnLoanRequest struct {
	ReturnDate *domain.Date `json:"returnDate,omitempty"`
}

type updateLoanRequest struct {
	UserID     *uint        `json:"userId,omitempty"`
	BookID     *uint        `json:"bookId,omitempty"`
	LoanDate   *domain.Date `json:"loanDate,omitempty"`
	ReturnDate *domain.Date `json:"returnDate,omitempty"`
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.allowLoanMutation(w, r) {
			return
		}
		var req issueLoanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		loan, err := s.app.IssueLoan(app.IssueLoanInput{
			UserID:     req.UserID,
			BookID:     req.BookID,
			LoanDate:   req.LoanDate,
			ReturnDate: req.ReturnDate,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, loan)
	case http.MethodGet:
		filter, ok := loanFilterFromQuery(w, r)
		if !ok {
			return
		}
		loans, err := s.app.ListLoans(filter)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loans)
	default:
		methodNotAllowed(w)
	}
}

// /loans/{id}, /loans/{id}/return, /loans/{id}/events
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/loans/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		notFound(w, "not found")
		return
	}
	id, ok := parseID(w, parts[0])
	if !ok {
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "return":
			s.handleReturnLoan(w, r, id)
		case "events":
			s.handleLoanEvents(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		loan, err := s.app.GetLoan(id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	case http.MethodPatch:
		s.handleUpdateLoan(w, r, id)
	case http.MethodDelete:
		if err := s.app.DeleteLoan(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request, id uint) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLoanMutation(w, r) {
		return
	}
	var req returnLoanRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	loan, err := s.app.ReturnLoan(id, req.ReturnDate)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleUpdateLoan(w http.ResponseWriter, r *http.Request, id uint) {
	var req updateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	loan, err := s.app.GetLoan(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if req.UserID != nil {
		loan.UserID = *req.UserID
	}
	if req.BookID != nil {
		loan.BookID = *req.BookID
	}
	if req.LoanDate != nil {
		loan.LoanDate = *req.LoanDate
	}
	if req.ReturnDate != nil {
		loan.ReturnDate = req.ReturnDate
	}
	updated, err := s.app.UpdateLoan(loan)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleLoanEvents(w http.ResponseWriter, r *http.Request, id uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	events, err := s.app.LoanEvents(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) allowLoanMutation(w http.ResponseWriter, r *http.Request) bool {
	if s.loanLimiter == nil {
		return true
	}
	if s.loanLimiter.Allow(util.ClientIP(r, s.trusted)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func loanFilterFromQuery(w http.ResponseWriter, r *http.Request) (store.LoanFilter, bool) {
	var filter store.LoanFilter
	q := r.URL.Query()
	if v := q.Get("userId"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			writeError(w, http.StatusBadRequest, "invalid userId filter")
			return filter, false
		}
		filter.UserID = uint(n)
	}
	if v := q.Get("bookId"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			writeError(w, http.StatusBadRequest, "invalid bookId filter")
			return filter, false
		}
		filter.BookID = uint(n)
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return filter, false
		}
		filter.ActiveOnly = active
	}
	return filter, true
}

func pathID(w http.ResponseWriter, path, prefix string) (uint, bool) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		notFound(w, "not found")
		return 0, false
	}
	return parseID(w, raw)
}

func parseID(w http.ResponseWriter, raw string) (uint, bool) {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(n), true
}

// writeAppError maps typed app failures onto stable statuses. Anything
// unrecognized is a storage/internal failure: logged, not leaked.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrBookNotFound),
		errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrLoanNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrBookNotAvailable),
		errors.Is(err, app.ErrLoanAlreadyReturned),
		errors.Is(err, app.ErrISBNExists),
		errors.Is(err, app.ErrEmailExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VALIDATION_ERROR"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
