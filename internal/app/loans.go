package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// IssueLoanInput carries the issue request. Nil dates take their defaults:
// LoanDate falls back to today, ReturnDate stays open.
type IssueLoanInput struct {
	UserID     uint
	BookID     uint
	LoanDate   *domain.Date
	ReturnDate *domain.Date
}

// IssueLoan lends a book to a user.
//
// The availability check and the AVAILABLE -> BORROWED transition are one
// conditional store update, so two concurrent issues for the same book
// resolve to exactly one success and one ErrBookNotAvailable. The losing
// request is not retried here; retrying is the caller's call.
func (a *App) IssueLoan(in IssueLoanInput) (domain.Loan, error) {
	if in.UserID == 0 {
		return domain.Loan{}, fmt.Errorf("%w: userId must be a positive integer", ErrInvalidInput)
	}
	if in.BookID == 0 {
		return domain.Loan{}, fmt.Errorf("%w: bookId must be a positive integer", ErrInvalidInput)
	}
	loanDate := domain.Today()
	if in.LoanDate != nil {
		loanDate = *in.LoanDate
	}
	if in.ReturnDate != nil && in.ReturnDate.Before(loanDate) {
		return domain.Loan{}, fmt.Errorf("%w: returnDate precedes loanDate", ErrInvalidInput)
	}

	if _, ok, err := a.store.GetUser(in.UserID); err != nil {
		return domain.Loan{}, fmt.Errorf("issue loan: get user: %w", err)
	} else if !ok {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrUserNotFound, in.UserID)
	}
	if _, ok, err := a.store.GetBook(in.BookID); err != nil {
		return domain.Loan{}, fmt.Errorf("issue loan: get book: %w", err)
	} else if !ok {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrBookNotFound, in.BookID)
	}

	// A loan supplied with both dates is an administrative backfill of an
	// already-closed loan: no copy leaves the shelf, so availability is
	// not touched and the book may even be out on another loan.
	if in.ReturnDate != nil {
		returned := *in.ReturnDate
		loan, err := a.store.CreateLoan(domain.Loan{
			UserID:     in.UserID,
			BookID:     in.BookID,
			LoanDate:   loanDate,
			ReturnDate: &returned,
		})
		if err != nil {
			return domain.Loan{}, fmt.Errorf("issue loan: create: %w", err)
		}
		a.recordEvent(domain.EventIssued, loan)
		return loan, nil
	}

	applied, err := a.store.SetBookStatusIf(in.BookID, domain.StatusAvailable, domain.StatusBorrowed)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("issue loan: status gate: %w", err)
	}
	if !applied {
		return domain.Loan{}, fmt.Errorf("%w: book %d", ErrBookNotAvailable, in.BookID)
	}

	loan, err := a.store.CreateLoan(domain.Loan{
		UserID:   in.UserID,
		BookID:   in.BookID,
		LoanDate: loanDate,
	})
	if err != nil {
		// The gate was won but the loan row failed; hand the copy back.
		if _, cerr := a.store.SetBookStatusIf(in.BookID, domain.StatusBorrowed, domain.StatusAvailable); cerr != nil {
			a.log.Error("issue compensation failed", "bookId", in.BookID, "err", cerr)
		}
		return domain.Loan{}, fmt.Errorf("issue loan: create: %w", err)
	}
	a.recordEvent(domain.EventIssued, loan)
	return loan, nil
}

// ReturnLoan closes an active loan and hands the book back to the shelf.
func (a *App) ReturnLoan(loanID uint, returnDate *domain.Date) (domain.Loan, error) {
	if loanID == 0 {
		return domain.Loan{}, fmt.Errorf("%w: loan id must be a positive integer", ErrInvalidInput)
	}
	loan, ok, err := a.store.GetLoan(loanID)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("return loan: get: %w", err)
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, loanID)
	}
	if loan.ReturnDate != nil {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrLoanAlreadyReturned, loanID)
	}
	returnedOn := domain.Today()
	if returnDate != nil {
		returnedOn = *returnDate
	}
	if returnedOn.Before(loan.LoanDate) {
		return domain.Loan{}, fmt.Errorf("%w: returnDate precedes loanDate", ErrInvalidInput)
	}

	applied, err := a.store.CloseLoan(loanID, returnedOn)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("return loan: close: %w", err)
	}
	if !applied {
		// Another return slipped in between the read and the close.
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrLoanAlreadyReturned, loanID)
	}

	flipped, err := a.store.SetBookStatusIf(loan.BookID, domain.StatusBorrowed, domain.StatusAvailable)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("return loan: release book: %w", err)
	}
	if !flipped {
		// The book should be BORROWED while its loan is active. An
		// administrative edit can break that; restore AVAILABLE anyway.
		a.log.Warn("book status diverged on return", "bookId", loan.BookID, "loanId", loanID)
		if serr := a.store.SetBookStatus(loan.BookID, domain.StatusAvailable); serr != nil && !errors.Is(serr, store.ErrNotFound) {
			return domain.Loan{}, fmt.Errorf("return loan: release book: %w", serr)
		}
	}

	updated, ok, err := a.store.GetLoan(loanID)
	if err != nil || !ok {
		loan.ReturnDate = &returnedOn
		updated = loan
	}
	a.recordEvent(domain.EventReturned, updated)
	return updated, nil
}

// GetLoan returns a loan by id.
func (a *App) GetLoan(id uint) (domain.Loan, error) {
	if id == 0 {
		return domain.Loan{}, fmt.Errorf("%w: loan id must be a positive integer", ErrInvalidInput)
	}
	loan, ok, err := a.store.GetLoan(id)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("get loan: %w", err)
	}
	if !ok {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	return loan, nil
}

// ListLoans returns loans matching the filter.
func (a *App) ListLoans(filter store.LoanFilter) ([]domain.Loan, error) {
	loans, err := a.store.ListLoans(filter)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// UpdateLoan corrects clerical loan data. It re-checks that the referenced
// user and book exist and that the dates are ordered, but deliberately does
// not re-run the availability state machine: the caller is fixing a record,
// not re-issuing the loan.
func (a *App) UpdateLoan(l domain.Loan) (domain.Loan, error) {
	if l.ID == 0 {
		return domain.Loan{}, fmt.Errorf("%w: loan id must be a positive integer", ErrInvalidInput)
	}
	if l.UserID == 0 {
		return domain.Loan{}, fmt.Errorf("%w: userId must be a positive integer", ErrInvalidInput)
	}
	if l.BookID == 0 {
		return domain.Loan{}, fmt.Errorf("%w: bookId must be a positive integer", ErrInvalidInput)
	}
	if l.LoanDate.IsZero() {
		return domain.Loan{}, fmt.Errorf("%w: loanDate is required", ErrInvalidInput)
	}
	if l.ReturnDate != nil && l.ReturnDate.Before(l.LoanDate) {
		return domain.Loan{}, fmt.Errorf("%w: returnDate precedes loanDate", ErrInvalidInput)
	}
	if _, ok, err := a.store.GetUser(l.UserID); err != nil {
		return domain.Loan{}, fmt.Errorf("update loan: get user: %w", err)
	} else if !ok {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrUserNotFound, l.UserID)
	}
	if _, ok, err := a.store.GetBook(l.BookID); err != nil {
		return domain.Loan{}, fmt.Errorf("update loan: get book: %w", err)
	} else if !ok {
		return domain.Loan{}, fmt.Errorf("%w: id %d", ErrBookNotFound, l.BookID)
	}
	if err := a.store.UpdateLoan(l); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, l.ID)
		}
		return domain.Loan{}, fmt.Errorf("update loan: %w", err)
	}
	return a.GetLoan(l.ID)
}

// DeleteLoan removes a loan record. Deleting an active loan is an
// administrative correction, not a return: book availability is left as-is.
func (a *App) DeleteLoan(id uint) error {
	if id == 0 {
		return fmt.Errorf("%w: loan id must be a positive integer", ErrInvalidInput)
	}
	if err := a.store.DeleteLoan(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
		}
		return fmt.Errorf("delete loan: %w", err)
	}
	return nil
}

// LoanEvents returns the audit trail for a loan, oldest first.
func (a *App) LoanEvents(loanID uint) ([]domain.LoanEvent, error) {
	if _, err := a.GetLoan(loanID); err != nil {
		return nil, err
	}
	events, err := a.store.ListLoanEvents(loanID)
	if err != nil {
		return nil, fmt.Errorf("list loan events: %w", err)
	}
	return events, nil
}

// recordEvent appends an audit row. Best-effort: a failed audit write is
// logged but never fails the lending operation it describes.
func (a *App) recordEvent(action string, l domain.Loan) {
	payload := map[string]any{"loanDate": l.LoanDate.String()}
	if l.ReturnDate != nil {
		payload["returnDate"] = l.ReturnDate.String()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		a.log.Warn("marshal loan event", "loanId", l.ID, "err", err)
		return
	}
	event := domain.LoanEvent{
		LoanID:  l.ID,
		BookID:  l.BookID,
		UserID:  l.UserID,
		Action:  action,
		Payload: raw,
	}
	if err := a.store.RecordLoanEvent(event); err != nil {
		a.log.Warn("record loan event", "loanId", l.ID, "action", action, "err", err)
	}
}
