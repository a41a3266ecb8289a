package store

import (
	"errors"
	"testing"

	"librarian/pkg/domain"
)

func seedMemBook(t *testing.T, m *MemoryStore, isbn string) domain.Book {
	t.Helper()
	book, err := m.CreateBook(domain.Book{
		Title:         "Title",
		Author:        "Author",
		ISBN:          isbn,
		PublishedDate: domain.NewDate(2020, 1, 1),
		Status:        domain.StatusAvailable,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func TestSetBookStatusIf(t *testing.T) {
	m := NewMemoryStore()
	book := seedMemBook(t, m, "9780000000001")

	applied, err := m.SetBookStatusIf(book.ID, domain.StatusBorrowed, domain.StatusAvailable)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if applied {
		t.Fatal("cas should fail when expected status does not match")
	}

	applied, err = m.SetBookStatusIf(book.ID, domain.StatusAvailable, domain.StatusBorrowed)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if !applied {
		t.Fatal("cas should apply when expected status matches")
	}
	got, _, _ := m.GetBook(book.ID)
	if got.Status != domain.StatusBorrowed {
		t.Fatalf("status = %s, want BORROWED", got.Status)
	}

	// Missing book behaves like a failed precondition, not an error.
	applied, err = m.SetBookStatusIf(99, domain.StatusAvailable, domain.StatusBorrowed)
	if err != nil || applied {
		t.Fatalf("cas on missing book = (%v, %v), want (false, nil)", applied, err)
	}
}

func TestCloseLoanAppliesOnce(t *testing.T) {
	m := NewMemoryStore()
	loan, err := m.CreateLoan(domain.Loan{UserID: 1, BookID: 1, LoanDate: domain.NewDate(2025, 1, 1)})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	applied, err := m.CloseLoan(loan.ID, domain.NewDate(2025, 1, 5))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !applied {
		t.Fatal("first close should apply")
	}
	applied, err = m.CloseLoan(loan.ID, domain.NewDate(2025, 1, 6))
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if applied {
		t.Fatal("second close should not apply")
	}
	got, _, _ := m.GetLoan(loan.ID)
	if got.ReturnDate == nil || got.ReturnDate.String() != "2025-01-05" {
		t.Fatalf("returnDate = %v, want 2025-01-05", got.ReturnDate)
	}
}

func TestDuplicateISBNAndEmail(t *testing.T) {
	m := NewMemoryStore()
	seedMemBook(t, m, "9780000000001")
	if _, err := m.CreateBook(domain.Book{Title: "X", Author: "Y", ISBN: "9780000000001"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	if _, err := m.CreateUser(domain.User{Name: "A", Email: "a@example.com", Role: domain.RoleUser}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := m.CreateUser(domain.User{Name: "B", Email: "a@example.com", Role: domain.RoleUser}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestUpdateMissingRecordsReturnNotFound(t *testing.T) {
	m := NewMemoryStore()
	if err := m.UpdateBook(domain.Book{ID: 1, ISBN: "9780000000001"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update book err = %v, want ErrNotFound", err)
	}
	if err := m.UpdateUser(domain.User{ID: 1, Email: "a@example.com"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update user err = %v, want ErrNotFound", err)
	}
	if err := m.UpdateLoan(domain.Loan{ID: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update loan err = %v, want ErrNotFound", err)
	}
	if err := m.DeleteLoan(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete loan err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	m := NewMemoryStore()
	book := seedMemBook(t, m, "9780000000001")
	other := seedMemBook(t, m, "9780000000002")
	user, _ := m.CreateUser(domain.User{Name: "A", Email: "a@example.com", Role: domain.RoleUser})

	l1, _ := m.CreateLoan(domain.Loan{UserID: user.ID, BookID: book.ID, LoanDate: domain.NewDate(2025, 1, 1)})
	l2, _ := m.CreateLoan(domain.Loan{UserID: user.ID, BookID: other.ID, LoanDate: domain.NewDate(2025, 1, 2)})

	if err := m.DeleteBook(book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok, _ := m.GetLoan(l1.ID); ok {
		t.Fatal("loan on deleted book should be gone")
	}
	if _, ok, _ := m.GetLoan(l2.ID); !ok {
		t.Fatal("loan on other book should remain")
	}

	if err := m.DeleteUser(user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, ok, _ := m.GetLoan(l2.ID); ok {
		t.Fatal("loan of deleted user should be gone")
	}
}

func TestListLoansFilters(t *testing.T) {
	m := NewMemoryStore()
	book := seedMemBook(t, m, "9780000000001")
	other := seedMemBook(t, m, "9780000000002")
	u1, _ := m.CreateUser(domain.User{Name: "A", Email: "a@example.com", Role: domain.RoleUser})
	u2, _ := m.CreateUser(domain.User{Name: "B", Email: "b@example.com", Role: domain.RoleUser})

	l1, _ := m.CreateLoan(domain.Loan{UserID: u1.ID, BookID: book.ID, LoanDate: domain.NewDate(2025, 1, 1)})
	m.CreateLoan(domain.Loan{UserID: u2.ID, BookID: other.ID, LoanDate: domain.NewDate(2025, 1, 2)})
	if _, err := m.CloseLoan(l1.ID, domain.NewDate(2025, 1, 3)); err != nil {
		t.Fatalf("close: %v", err)
	}

	all, _ := m.ListLoans(LoanFilter{})
	if len(all) != 2 {
		t.Fatalf("all loans = %d, want 2", len(all))
	}
	byUser, _ := m.ListLoans(LoanFilter{UserID: u1.ID})
	if len(byUser) != 1 || byUser[0].ID != l1.ID {
		t.Fatalf("byUser = %v, want just loan %d", byUser, l1.ID)
	}
	active, _ := m.ListLoans(LoanFilter{ActiveOnly: true})
	if len(active) != 1 || active[0].UserID != u2.ID {
		t.Fatalf("active = %v, want just the open loan", active)
	}
	byBookActive, _ := m.ListLoans(LoanFilter{BookID: book.ID, ActiveOnly: true})
	if len(byBookActive) != 0 {
		t.Fatalf("byBookActive = %d, want 0", len(byBookActive))
	}
}

func TestLoanEvents(t *testing.T) {
	m := NewMemoryStore()
	if err := m.RecordLoanEvent(domain.LoanEvent{LoanID: 1, BookID: 1, UserID: 1, Action: domain.EventIssued}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordLoanEvent(domain.LoanEvent{LoanID: 1, BookID: 1, UserID: 1, Action: domain.EventReturned}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordLoanEvent(domain.LoanEvent{LoanID: 2, BookID: 2, UserID: 1, Action: domain.EventIssued}); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := m.ListLoanEvents(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("event count = %d, want 2", len(events))
	}
	if events[0].ID == 0 || events[1].ID <= events[0].ID {
		t.Fatalf("event ids not monotonic: %d, %d", events[0].ID, events[1].ID)
	}
}
