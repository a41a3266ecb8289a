package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"librarian/pkg/domain"
)

// GORM models used for persistence.
type BookModel struct {
	ID            uint           `gorm:"primaryKey"`
	Title         string         `gorm:"not null"`
	Author        string         `gorm:"not null"`
	ISBN          string         `gorm:"size:13;uniqueIndex;not null"`
	PublishedDate datatypes.Date `gorm:"not null"`
	Status        string         `gorm:"size:20;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (BookModel) TableName() string { return "books" }

type UserModel struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Role      string    `gorm:"size:20;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type LoanModel struct {
	ID         uint            `gorm:"primaryKey"`
	UserID     uint            `gorm:"not null;index"`
	BookID     uint            `gorm:"not null;index"`
	LoanDate   datatypes.Date  `gorm:"not null"`
	ReturnDate *datatypes.Date `gorm:"index"`
	CreatedAt  time.Time       `gorm:"not null"`
	UpdatedAt  time.Time       `gorm:"not null"`
}

func (LoanModel) TableName() string { return "loans" }

type LoanEventModel struct {
	ID        uint           `gorm:"primaryKey"`
	LoanID    uint           `gorm:"not null;index"`
	BookID    uint           `gorm:"not null"`
	UserID    uint           `gorm:"not null"`
	Action    string         `gorm:"size:20;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

func (LoanEventModel) TableName() string { return "loan_events" }

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		PublishedDate: datatypes.Date(b.PublishedDate.Time),
		Status:        string(b.Status),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:            m.ID,
		Title:         m.Title,
		Author:        m.Author,
		ISBN:          m.ISBN,
		PublishedDate: domain.FromTime(time.Time(m.PublishedDate)),
		Status:        domain.BookStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Role:      domain.UserRole(m.Role),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func loanToModel(l domain.Loan) LoanModel {
	model := LoanModel{
		ID:        l.ID,
		UserID:    l.UserID,
		BookID:    l.BookID,
		LoanDate:  datatypes.Date(l.LoanDate.Time),
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
	if l.ReturnDate != nil {
		d := datatypes.Date(l.ReturnDate.Time)
		model.ReturnDate = &d
	}
	return model
}

func loanFromModel(m LoanModel) domain.Loan {
	loan := domain.Loan{
		ID:        m.ID,
		UserID:    m.UserID,
		BookID:    m.BookID,
		LoanDate:  domain.FromTime(time.Time(m.LoanDate)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ReturnDate != nil {
		d := domain.FromTime(time.Time(*m.ReturnDate))
		loan.ReturnDate = &d
	}
	return loan
}

func eventToModel(e domain.LoanEvent) LoanEventModel {
	return LoanEventModel{
		ID:        e.ID,
		LoanID:    e.LoanID,
		BookID:    e.BookID,
		UserID:    e.UserID,
		Action:    e.Action,
		Payload:   datatypes.JSON(e.Payload),
		CreatedAt: e.CreatedAt,
	}
}

func eventFromModel(m LoanEventModel) domain.LoanEvent {
	return domain.LoanEvent{
		ID:        m.ID,
		LoanID:    m.LoanID,
		BookID:    m.BookID,
		UserID:    m.UserID,
		Action:    m.Action,
		Payload:   json.RawMessage(m.Payload),
		CreatedAt: m.CreatedAt,
	}
}
