package app

import (
	"errors"
	"fmt"
	"strings"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// CreateBook admits a book to the catalog with status AVAILABLE.
func (a *App) CreateBook(title, author, isbn string, published domain.Date) (domain.Book, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	isbn = strings.TrimSpace(isbn)
	if err := validateBookFields(title, author, isbn, published); err != nil {
		return domain.Book{}, err
	}
	book := domain.Book{
		Title:         title,
		Author:        author,
		ISBN:          isbn,
		PublishedDate: published,
		Status:        domain.StatusAvailable,
	}
	created, err := a.store.CreateBook(book)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Book{}, fmt.Errorf("%w: %s", ErrISBNExists, isbn)
		}
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return created, nil
}

// GetBook returns a catalog entry by id.
func (a *App) GetBook(id uint) (domain.Book, error) {
	if id == 0 {
		return domain.Book{}, fmt.Errorf("%w: book id must be a positive integer", ErrInvalidInput)
	}
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, fmt.Errorf("%w: id %d", ErrBookNotFound, id)
	}
	return book, nil
}

// GetBookByISBN returns a catalog entry by its ISBN.
func (a *App) GetBookByISBN(isbn string) (domain.Book, error) {
	isbn = strings.TrimSpace(isbn)
	if !validISBN(isbn) {
		return domain.Book{}, fmt.Errorf("%w: isbn must be exactly 13 digits", ErrInvalidInput)
	}
	book, ok, err := a.store.GetBookByISBN(isbn)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book by isbn: %w", err)
	}
	if !ok {
		return domain.Book{}, fmt.Errorf("%w: isbn %s", ErrBookNotFound, isbn)
	}
	return book, nil
}

// ListBooks returns the whole catalog.
func (a *App) ListBooks() ([]domain.Book, error) {
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// UpdateBook rewrites a catalog entry. Status may be set directly here as
// an administrative correction; lending transitions go through the engine.
func (a *App) UpdateBook(b domain.Book) (domain.Book, error) {
	if b.ID == 0 {
		return domain.Book{}, fmt.Errorf("%w: book id must be a positive integer", ErrInvalidInput)
	}
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	if err := validateBookFields(b.Title, b.Author, b.ISBN, b.PublishedDate); err != nil {
		return domain.Book{}, err
	}
	if b.Status != domain.StatusAvailable && b.Status != domain.StatusBorrowed {
		return domain.Book{}, fmt.Errorf("%w: status must be AVAILABLE or BORROWED", ErrInvalidInput)
	}
	if err := a.store.UpdateBook(b); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Book{}, fmt.Errorf("%w: id %d", ErrBookNotFound, b.ID)
		case errors.Is(err, store.ErrDuplicate):
			return domain.Book{}, fmt.Errorf("%w: %s", ErrISBNExists, b.ISBN)
		}
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	return a.GetBook(b.ID)
}

// DeleteBook removes a book and all loans referencing it.
func (a *App) DeleteBook(id uint) error {
	if id == 0 {
		return fmt.Errorf("%w: book id must be a positive integer", ErrInvalidInput)
	}
	if err := a.store.DeleteBook(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrBookNotFound, id)
		}
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

func validateBookFields(title, author, isbn string, published domain.Date) error {
	switch {
	case title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case author == "":
		return fmt.Errorf("%w: author is required", ErrInvalidInput)
	case !validISBN(isbn):
		return fmt.Errorf("%w: isbn must be exactly 13 digits", ErrInvalidInput)
	case published.IsZero():
		return fmt.Errorf("%w: publishedDate is required", ErrInvalidInput)
	case published.After(domain.Today()):
		return fmt.Errorf("%w: publishedDate must not be in the future", ErrInvalidInput)
	}
	return nil
}

func validISBN(isbn string) bool {
	if len(isbn) != 13 {
		return false
	}
	for _, r := range isbn {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
