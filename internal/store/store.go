package store

import (
	"errors"

	"librarian/pkg/domain"
)

var (
	// ErrNotFound is returned by updates/deletes that matched zero rows.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique column (isbn, email) collides.
	ErrDuplicate = errors.New("duplicate value")
)

// LoanFilter narrows ListLoans. Zero-valued fields match everything.
type LoanFilter struct {
	UserID     uint
	BookID     uint
	ActiveOnly bool
}

// Store defines persistence operations for books, users, and loans.
type Store interface {
	// books
	CreateBook(domain.Book) (domain.Book, error)
	GetBook(id uint) (domain.Book, bool, error)
	GetBookByISBN(isbn string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	UpdateBook(domain.Book) error
	DeleteBook(id uint) error
	// SetBookStatusIf flips the book's status only when its current value
	// matches expected, reporting whether the transition applied. This is
	// the atomic gate the lending engine relies on.
	SetBookStatusIf(id uint, expected, next domain.BookStatus) (bool, error)
	// SetBookStatus writes the status unconditionally.
	SetBookStatus(id uint, status domain.BookStatus) error

	// users
	CreateUser(domain.User) (domain.User, error)
	GetUser(id uint) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UpdateUser(domain.User) error
	DeleteUser(id uint) error

	// loans
	CreateLoan(domain.Loan) (domain.Loan, error)
	GetLoan(id uint) (domain.Loan, bool, error)
	ListLoans(LoanFilter) ([]domain.Loan, error)
	UpdateLoan(domain.Loan) error
	// CloseLoan sets the return date only when the loan is still open,
	// reporting whether the close applied.
	CloseLoan(id uint, returnedOn domain.Date) (bool, error)
	DeleteLoan(id uint) error

	// audit
	RecordLoanEvent(domain.LoanEvent) error
	ListLoanEvents(loanID uint) ([]domain.LoanEvent, error)
}
