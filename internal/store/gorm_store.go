package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"librarian/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&BookModel{}, &UserModel{}, &LoanModel{}, &LoanEventModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// CreateBook inserts a book and returns it with its generated id.
func (s *GormStore) CreateBook(b domain.Book) (domain.Book, error) {
	model := bookToModel(b)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Book{}, translate(err)
	}
	return bookFromModel(model), nil
}

// GetBook returns a book by id.
func (s *GormStore) GetBook(id uint) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// GetBookByISBN looks up a book by its ISBN.
func (s *GormStore) GetBookByISBN(isbn string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.Where("isbn = ?", isbn).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by id.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook rewrites all mutable book fields. Zero matched rows is ErrNotFound.
func (s *GormStore) UpdateBook(b domain.Book) error {
	res := s.db.Model(&BookModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"title":          b.Title,
			"author":         b.Author,
			"isbn":           b.ISBN,
			"published_date": datatypes.Date(b.PublishedDate.Time),
			"status":         string(b.Status),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBook removes a book and cascades to its loans.
func (s *GormStore) DeleteBook(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&BookModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("book_id = ?", id).Delete(&LoanModel{}).Error
	})
}

// SetBookStatusIf applies the status transition only when the current
// status matches expected. The conditional UPDATE is the atomicity gate:
// at most one concurrent caller observes RowsAffected == 1.
func (s *GormStore) SetBookStatusIf(id uint, expected, next domain.BookStatus) (bool, error) {
	res := s.db.Model(&BookModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]any{
			"status":     string(next),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetBookStatus writes the status unconditionally.
func (s *GormStore) SetBookStatus(id uint, status domain.BookStatus) error {
	res := s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts a user and returns it with its generated id.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.User{}, translate(err)
	}
	return userFromModel(model), nil
}

// GetUser returns a user by id.
func (s *GormStore) GetUser(id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by id.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpdateUser rewrites all mutable user fields. Zero matched rows is ErrNotFound.
func (s *GormStore) UpdateUser(u domain.User) error {
	res := s.db.Model(&UserModel{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"name":       u.Name,
			"email":      u.Email,
			"role":       string(u.Role),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user and cascades to their loans.
func (s *GormStore) DeleteUser(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&UserModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("user_id = ?", id).Delete(&LoanModel{}).Error
	})
}

// CreateLoan inserts a loan and returns it with its generated id.
func (s *GormStore) CreateLoan(l domain.Loan) (domain.Loan, error) {
	model := loanToModel(l)
	model.ID = 0
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Loan{}, err
	}
	return loanFromModel(model), nil
}

// GetLoan returns a loan by id.
func (s *GormStore) GetLoan(id uint) (domain.Loan, bool, error) {
	var model LoanModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

// ListLoans returns loans matching the filter ordered by id.
func (s *GormStore) ListLoans(filter LoanFilter) ([]domain.Loan, error) {
	q := s.db.Model(&LoanModel{}).Order("id ASC")
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.BookID != 0 {
		q = q.Where("book_id = ?", filter.BookID)
	}
	if filter.ActiveOnly {
		q = q.Where("return_date IS NULL")
	}
	var models []LoanModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, nil
}

// UpdateLoan rewrites all loan fields. Zero matched rows is ErrNotFound.
func (s *GormStore) UpdateLoan(l domain.Loan) error {
	values := map[string]any{
		"user_id":    l.UserID,
		"book_id":    l.BookID,
		"loan_date":  datatypes.Date(l.LoanDate.Time),
		"updated_at": time.Now().UTC(),
	}
	if l.ReturnDate != nil {
		values["return_date"] = datatypes.Date(l.ReturnDate.Time)
	} else {
		values["return_date"] = nil
	}
	res := s.db.Model(&LoanModel{}).Where("id = ?", l.ID).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseLoan sets the return date only when the loan is still open.
func (s *GormStore) CloseLoan(id uint, returnedOn domain.Date) (bool, error) {
	res := s.db.Model(&LoanModel{}).
		Where("id = ? AND return_date IS NULL", id).
		Updates(map[string]any{
			"return_date": datatypes.Date(returnedOn.Time),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteLoan removes a loan record.
func (s *GormStore) DeleteLoan(id uint) error {
	res := s.db.Delete(&LoanModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoanEvent appends one audit record.
func (s *GormStore) RecordLoanEvent(e domain.LoanEvent) error {
	model := eventToModel(e)
	model.ID = 0
	return s.db.Create(&model).Error
}

// ListLoanEvents returns the audit trail for a loan, oldest first.
func (s *GormStore) ListLoanEvents(loanID uint) ([]domain.LoanEvent, error) {
	var models []LoanEventModel
	if err := s.db.Where("loan_id = ?", loanID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LoanEvent, 0, len(models))
	for _, m := range models {
		res = append(res, eventFromModel(m))
	}
	return res, nil
}
