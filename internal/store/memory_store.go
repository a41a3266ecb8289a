package store

import (
	"sync"
	"time"

	"librarian/pkg/domain"
)

// MemoryStore keeps records in-process. It mirrors GormStore semantics,
// including the conditional-update primitives, and is used by tests and
// local development.
type MemoryStore struct {
	mu        sync.Mutex
	books     map[uint]domain.Book
	users     map[uint]domain.User
	loans     map[uint]domain.Loan
	events    []domain.LoanEvent
	nextBook  uint
	nextUser  uint
	nextLoan  uint
	nextEvent uint
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: make(map[uint]domain.Book),
		users: make(map[uint]domain.User),
		loans: make(map[uint]domain.Loan),
	}
}

// CreateBook assigns an id and stores the book.
func (m *MemoryStore) CreateBook(b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.books {
		if existing.ISBN == b.ISBN {
			return domain.Book{}, ErrDuplicate
		}
	}
	m.nextBook++
	b.ID = m.nextBook
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	m.books[b.ID] = b
	return b, nil
}

// GetBook retrieves a book by id.
func (m *MemoryStore) GetBook(id uint) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// GetBookByISBN looks up a book by its ISBN.
func (m *MemoryStore) GetBookByISBN(isbn string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.books {
		if b.ISBN == isbn {
			return b, true, nil
		}
	}
	return domain.Book{}, false, nil
}

// ListBooks returns all books ordered by id.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Book, 0, len(m.books))
	for id := uint(1); id <= m.nextBook; id++ {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

// UpdateBook replaces mutable book fields.
func (m *MemoryStore) UpdateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.books[b.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range m.books {
		if id != b.ID && other.ISBN == b.ISBN {
			return ErrDuplicate
		}
	}
	b.CreatedAt = current.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	m.books[b.ID] = b
	return nil
}

// DeleteBook removes a book and its loans.
func (m *MemoryStore) DeleteBook(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return ErrNotFound
	}
	delete(m.books, id)
	for loanID, l := range m.loans {
		if l.BookID == id {
			delete(m.loans, loanID)
		}
	}
	return nil
}

// SetBookStatusIf flips the status only when it matches expected.
func (m *MemoryStore) SetBookStatusIf(id uint, expected, next domain.BookStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok || b.Status != expected {
		return false, nil
	}
	b.Status = next
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return true, nil
}

// SetBookStatus writes the status unconditionally.
func (m *MemoryStore) SetBookStatus(id uint, status domain.BookStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

// CreateUser assigns an id and stores the user.
func (m *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return domain.User{}, ErrDuplicate
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.users[u.ID] = u
	return u, nil
}

// GetUser retrieves a user by id.
func (m *MemoryStore) GetUser(id uint) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// ListUsers returns all users ordered by id.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.User, 0, len(m.users))
	for id := uint(1); id <= m.nextUser; id++ {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

// UpdateUser replaces mutable user fields.
func (m *MemoryStore) UpdateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range m.users {
		if id != u.ID && other.Email == u.Email {
			return ErrDuplicate
		}
	}
	u.CreatedAt = current.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	m.users[u.ID] = u
	return nil
}

// DeleteUser removes a user and their loans.
func (m *MemoryStore) DeleteUser(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	for loanID, l := range m.loans {
		if l.UserID == id {
			delete(m.loans, loanID)
		}
	}
	return nil
}

// CreateLoan assigns an id and stores the loan.
func (m *MemoryStore) CreateLoan(l domain.Loan) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLoan++
	l.ID = m.nextLoan
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	m.loans[l.ID] = l
	return l, nil
}

// GetLoan retrieves a loan by id.
func (m *MemoryStore) GetLoan(id uint) (domain.Loan, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	return l, ok, nil
}

// ListLoans returns loans matching the filter ordered by id.
func (m *MemoryStore) ListLoans(filter LoanFilter) ([]domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Loan, 0, len(m.loans))
	for id := uint(1); id <= m.nextLoan; id++ {
		l, ok := m.loans[id]
		if !ok {
			continue
		}
		if filter.UserID != 0 && l.UserID != filter.UserID {
			continue
		}
		if filter.BookID != 0 && l.BookID != filter.BookID {
			continue
		}
		if filter.ActiveOnly && !l.Active() {
			continue
		}
		res = append(res, l)
	}
	return res, nil
}

// UpdateLoan replaces all loan fields.
func (m *MemoryStore) UpdateLoan(l domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.loans[l.ID]
	if !ok {
		return ErrNotFound
	}
	l.CreatedAt = current.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	m.loans[l.ID] = l
	return nil
}

// CloseLoan sets the return date only when the loan is still open.
func (m *MemoryStore) CloseLoan(id uint, returnedOn domain.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok || l.ReturnDate != nil {
		return false, nil
	}
	d := returnedOn
	l.ReturnDate = &d
	l.UpdatedAt = time.Now().UTC()
	m.loans[id] = l
	return true, nil
}

// DeleteLoan removes a loan record.
func (m *MemoryStore) DeleteLoan(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[id]; !ok {
		return ErrNotFound
	}
	delete(m.loans, id)
	return nil
}

// RecordLoanEvent appends one audit record.
func (m *MemoryStore) RecordLoanEvent(e domain.LoanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	e.ID = m.nextEvent
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, e)
	return nil
}

// ListLoanEvents returns the audit trail for a loan, oldest first.
func (m *MemoryStore) ListLoanEvents(loanID uint) ([]domain.LoanEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.LoanEvent, 0, 2)
	for _, e := range m.events {
		if e.LoanID == loanID {
			res = append(res, e)
		}
	}
	return res, nil
}
