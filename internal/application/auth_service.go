package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/storage"
)

// Authenticate checks a username and password against the password
// side-table. Unknown users, users without a password and wrong passwords
// all yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (user *entity.User, err error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}

	username = strings.TrimSpace(username)
	logger := s.loggerWith(ctx, "Authenticate", "username", username)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID().String()).InfoContext(ctx, "authentication succeeded")
	}()

	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var hash string
	_ = s.service.View(func(c *storage.LocalCache) error {
		found, ok := c.User(username)
		if !ok {
			return nil
		}
		user = found
		hash, _ = c.Password(found.ID())
		return nil
	})
	if user == nil || hash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.Verify(hash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: stored hash of %s: %v", ErrInvalidCredentials, user.ID(), err)
	}

	if s.hasher.NeedsRehash(hash) {
		s.rehash(ctx, user.ID(), password)
	}
	return user, nil
}

// rehash upgrades a stored hash to the current parameters. Failures only
// cost another attempt at the next login.
func (s *UserService) rehash(ctx context.Context, userID entity.ID, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		_, err = s.service.Transaction(ctx, userID, func(tx *Transaction) error {
			return tx.SetPassword(userID, hash)
		})
	}
	if err != nil {
		s.loggerWith(ctx, "rehash", "user_id", userID.String()).WarnContext(ctx, "password rehash failed", "error", err)
	}
}

// SetPassword replaces a password. Users changing their own password must
// present the current one; administrators may reset any password.
func (s *UserService) SetPassword(ctx context.Context, params SetPasswordParams) (err error) {
	if s == nil {
		return fmt.Errorf("UserService is nil")
	}
	self := params.Principal.UserID == params.UserID
	if !self && !params.Principal.IsAdmin {
		return ErrUnauthorized
	}

	logger := s.loggerWith(ctx, "SetPassword", "user_id", params.UserID.String())
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "password change failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password changed")
	}()

	if len(params.NewPassword) < 8 {
		return &ValidationError{FieldErrors: map[string]string{"new_password": "password must have at least 8 characters"}}
	}

	if params.UserID.Type != entity.TypeUser {
		return fmt.Errorf("%w: %s", ErrNotFound, params.UserID)
	}
	var (
		current string
		known   bool
	)
	_ = s.service.View(func(c *storage.LocalCache) error {
		_, known = c.Get(params.UserID)
		current, _ = c.Password(params.UserID)
		return nil
	})
	if !known {
		return fmt.Errorf("%w: %s", ErrNotFound, params.UserID)
	}
	if self && !params.Principal.IsAdmin {
		if current == "" {
			return ErrInvalidCredentials
		}
		if err := s.hasher.Verify(current, params.OldPassword); err != nil {
			return ErrInvalidCredentials
		}
	}

	hash, err := s.hasher.Hash(params.NewPassword)
	if err != nil {
		return err
	}
	_, err = s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		return tx.SetPassword(params.UserID, hash)
	})
	return err
}
