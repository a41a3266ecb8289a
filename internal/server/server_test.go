package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"librarian/internal/app"
	"librarian/internal/store"
	"librarian/pkg/domain"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	a, err := app.New(app.Config{
		Store:  store.NewMemoryStore(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: a})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func createBook(t *testing.T, base, isbn string) domain.Book {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, base+"/books", map[string]any{
		"title":         "The Go Programming Language",
		"author":        "Donovan & Kernighan",
		"isbn":          isbn,
		"publishedDate": "2015-10-26",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create book expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var book domain.Book
	if err := json.Unmarshal(raw, &book); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	return book
}

func createUser(t *testing.T, base, email string) domain.User {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, base+"/users", map[string]any{
		"name":  "Ada Lovelace",
		"email": email,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return user
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	book := createBook(t, srv.URL, "9780134190440")
	user := createUser(t, srv.URL, "ada@example.com")

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/loans", map[string]any{
		"userId": user.ID,
		"bookId": book.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var loan domain.Loan
	if err := json.Unmarshal(raw, &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}
	if loan.ReturnDate != nil {
		t.Fatalf("fresh loan should be open, got returnDate %v", loan.ReturnDate)
	}

	resp, raw = doJSON(t, http.MethodGet, fmt.Sprintf("%s/books/%d", srv.URL, book.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get book expected 200, got %d", resp.StatusCode)
	}
	var got domain.Book
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if got.Status != domain.StatusBorrowed {
		t.Fatalf("book status = %s, want BORROWED", got.Status)
	}

	// Second issue for the same book conflicts.
	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/loans", map[string]any{
		"userId": user.ID,
		"bookId": book.ID,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second issue expected 409, got %d: %s", resp.StatusCode, raw)
	}
	var errResp errorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "CONFLICT" {
		t.Fatalf("error code = %q, want CONFLICT", errResp.Code)
	}

	resp, raw = doJSON(t, http.MethodPost, fmt.Sprintf("%s/loans/%d/return", srv.URL, loan.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("return expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var returned domain.Loan
	if err := json.Unmarshal(raw, &returned); err != nil {
		t.Fatalf("decode returned loan: %v", err)
	}
	if returned.ReturnDate == nil {
		t.Fatal("returned loan should carry a return date")
	}

	resp, raw = doJSON(t, http.MethodPost, fmt.Sprintf("%s/loans/%d/return", srv.URL, loan.ID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double return expected 409, got %d: %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodGet, fmt.Sprintf("%s/loans/%d/events", srv.URL, loan.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events expected 200, got %d", resp.StatusCode)
	}
	var events []domain.LoanEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 || events[0].Action != domain.EventIssued || events[1].Action != domain.EventReturned {
		t.Fatalf("unexpected audit trail: %+v", events)
	}
}

func TestIssueLoanValidation(t *testing.T) {
	srv := newTestServer(t)
	book := createBook(t, srv.URL, "9780134190440")
	user := createUser(t, srv.URL, "ada@example.com")

	cases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing user id", map[string]any{"bookId": book.ID}, http.StatusBadRequest},
		{"missing book id", map[string]any{"userId": user.ID}, http.StatusBadRequest},
		{"unknown user", map[string]any{"userId": 999, "bookId": book.ID}, http.StatusNotFound},
		{"unknown book", map[string]any{"userId": user.ID, "bookId": 999}, http.StatusNotFound},
		{"return before loan", map[string]any{
			"userId": user.ID, "bookId": book.ID,
			"loanDate": "2025-03-10", "returnDate": "2025-03-01",
		}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := doJSON(t, http.MethodPost, srv.URL+"/loans", tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.StatusCode, raw)
			}
		})
	}
}

func TestLoanFiltersAndBadQuery(t *testing.T) {
	srv := newTestServer(t)
	book := createBook(t, srv.URL, "9780134190440")
	other := createBook(t, srv.URL, "9781491941959")
	user := createUser(t, srv.URL, "ada@example.com")

	for _, id := range []uint{book.ID, other.ID} {
		resp, raw := doJSON(t, http.MethodPost, srv.URL+"/loans", map[string]any{
			"userId": user.ID,
			"bookId": id,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("issue expected 201, got %d: %s", resp.StatusCode, raw)
		}
	}

	resp, raw := doJSON(t, http.MethodGet, fmt.Sprintf("%s/loans?userId=%d&active=true", srv.URL, user.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list expected 200, got %d", resp.StatusCode)
	}
	var loans []domain.Loan
	if err := json.Unmarshal(raw, &loans); err != nil {
		t.Fatalf("decode loans: %v", err)
	}
	if len(loans) != 2 {
		t.Fatalf("active loans = %d, want 2", len(loans))
	}

	resp, raw = doJSON(t, http.MethodGet, fmt.Sprintf("%s/loans?bookId=%d", srv.URL, book.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list expected 200, got %d", resp.StatusCode)
	}
	loans = nil
	if err := json.Unmarshal(raw, &loans); err != nil {
		t.Fatalf("decode loans: %v", err)
	}
	if len(loans) != 1 || loans[0].BookID != book.ID {
		t.Fatalf("bookId filter returned %+v", loans)
	}

	for _, q := range []string{"userId=abc", "bookId=0", "active=maybe"} {
		resp, raw = doJSON(t, http.MethodGet, srv.URL+"/loans?"+q, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q expected 400, got %d: %s", q, resp.StatusCode, raw)
		}
	}
}

func TestUpdateAndDeleteLoan(t *testing.T) {
	srv := newTestServer(t)
	book := createBook(t, srv.URL, "9780134190440")
	user := createUser(t, srv.URL, "ada@example.com")

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/loans", map[string]any{
		"userId": user.ID,
		"bookId": book.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var loan domain.Loan
	if err := json.Unmarshal(raw, &loan); err != nil {
		t.Fatalf("decode loan: %v", err)
	}

	resp, raw = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/loans/%d", srv.URL, loan.ID), map[string]any{
		"loanDate": "2025-02-01",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var patched domain.Loan
	if err := json.Unmarshal(raw, &patched); err != nil {
		t.Fatalf("decode patched loan: %v", err)
	}
	if patched.LoanDate.String() != "2025-02-01" {
		t.Fatalf("loanDate = %s, want 2025-02-01", patched.LoanDate)
	}

	resp, raw = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/loans/%d", srv.URL, loan.ID), map[string]any{
		"userId": 999,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("patch with unknown user expected 404, got %d: %s", resp.StatusCode, raw)
	}

	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/loans/%d", srv.URL, loan.ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/loans/%d", srv.URL, loan.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete expected 404, got %d", resp.StatusCode)
	}
}

func TestBookEndpoints(t *testing.T) {
	srv := newTestServer(t)
	book := createBook(t, srv.URL, "9780134190440")

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/books", map[string]any{
		"title":         "Duplicate",
		"author":        "Someone",
		"isbn":          "9780134190440",
		"publishedDate": "2015-10-26",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate isbn expected 409, got %d: %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodPut, fmt.Sprintf("%s/books/%d", srv.URL, book.ID), map[string]any{
		"title":         "The Go Programming Language",
		"author":        "Alan Donovan, Brian Kernighan",
		"isbn":          "9780134190440",
		"publishedDate": "2015-10-26",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var updated domain.Book
	if err := json.Unmarshal(raw, &updated); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if updated.Author != "Alan Donovan, Brian Kernighan" {
		t.Fatalf("author = %q", updated.Author)
	}
	if updated.Status != domain.StatusAvailable {
		t.Fatalf("put without status should keep current status, got %s", updated.Status)
	}

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/books/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-numeric id expected 400, got %d: %s", resp.StatusCode, raw)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/books/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing book expected 404, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/books/%d", srv.URL, book.ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}
}

func TestUserEndpoints(t *testing.T) {
	srv := newTestServer(t)
	user := createUser(t, srv.URL, "ada@example.com")
	if user.Role != domain.RoleUser {
		t.Fatalf("default role = %s, want USER", user.Role)
	}

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"name":  "Other",
		"email": "ADA@example.com",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email expected 409, got %d: %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/users", map[string]any{
		"name":  "No Email",
		"email": "not-an-email",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad email expected 400, got %d: %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodPut, fmt.Sprintf("%s/users/%d", srv.URL, user.ID), map[string]any{
		"name":  "Ada Lovelace",
		"email": "ada@example.com",
		"role":  "ADMIN",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var updated domain.User
	if err := json.Unmarshal(raw, &updated); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if updated.Role != domain.RoleAdmin {
		t.Fatalf("role = %s, want ADMIN", updated.Role)
	}

	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/users/%d", srv.URL, user.ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/users/%d", srv.URL, user.ID), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete expected 404, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	resp, raw := doJSON(t, http.MethodPatch, srv.URL+"/books", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d: %s", resp.StatusCode, raw)
	}
	var errResp errorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Code != "METHOD_NOT_ALLOWED" {
		t.Fatalf("error code = %q", errResp.Code)
	}
}
