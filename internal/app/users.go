package app

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"librarian/internal/store"
	"librarian/pkg/domain"
)

// CreateUser registers a member. Role defaults to USER when empty.
func (a *App) CreateUser(name, email string, role domain.UserRole) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if role == "" {
		role = domain.RoleUser
	}
	if err := validateUserFields(name, email, role); err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		Name:  name,
		Email: email,
		Role:  role,
	}
	created, err := a.store.CreateUser(user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, fmt.Errorf("%w: %s", ErrEmailExists, email)
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// GetUser returns a member by id.
func (a *App) GetUser(id uint) (domain.User, error) {
	if id == 0 {
		return domain.User{}, fmt.Errorf("%w: user id must be a positive integer", ErrInvalidInput)
	}
	user, ok, err := a.store.GetUser(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	return user, nil
}

// GetUserByEmail returns a member by email.
func (a *App) GetUserByEmail(email string) (domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: email %s", ErrUserNotFound, email)
	}
	return user, nil
}

// ListUsers returns all members.
func (a *App) ListUsers() ([]domain.User, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser rewrites a member's profile and role.
func (a *App) UpdateUser(u domain.User) (domain.User, error) {
	if u.ID == 0 {
		return domain.User{}, fmt.Errorf("%w: user id must be a positive integer", ErrInvalidInput)
	}
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if err := validateUserFields(u.Name, u.Email, u.Role); err != nil {
		return domain.User{}, err
	}
	if err := a.store.UpdateUser(u); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.User{}, fmt.Errorf("%w: id %d", ErrUserNotFound, u.ID)
		case errors.Is(err, store.ErrDuplicate):
			return domain.User{}, fmt.Errorf("%w: %s", ErrEmailExists, u.Email)
		}
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return a.GetUser(u.ID)
}

// DeleteUser removes a member and all loans referencing them.
func (a *App) DeleteUser(id uint) error {
	if id == 0 {
		return fmt.Errorf("%w: user id must be a positive integer", ErrInvalidInput)
	}
	if err := a.store.DeleteUser(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrUserNotFound, id)
		}
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func validateUserFields(name, email string, role domain.UserRole) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	case role != domain.RoleUser && role != domain.RoleAdmin:
		return fmt.Errorf("%w: role must be USER or ADMIN", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	return nil
}
