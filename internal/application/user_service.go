package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/storage"
)

// UserService orchestrates validation, authorization, and commits for users.
type UserService struct {
	service *Service
	hasher  *PasswordHasher
	logger  *slog.Logger
}

// NewUserService wires dependencies for the user service. A nil hasher uses
// the default argon2id parameters.
func NewUserService(service *Service, hasher *PasswordHasher, logger *slog.Logger) *UserService {
	if hasher == nil {
		hasher = NewPasswordHasher(Argon2idParams{})
	}
	return &UserService{service: service, hasher: hasher, logger: defaultLogger(logger)}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

// CreateUser validates input and commits a new user for administrators.
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (*entity.User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !params.Principal.IsAdmin {
		return nil, ErrUnauthorized
	}

	input := normalizeUserInput(params.Input)
	vErr := validateUserInput(input)
	if input.Password == "" {
		vErr.add("password", "password is required")
	}
	s.checkUsernameFree(input.Username, entity.ID{}, vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	var user *entity.User
	_, err = s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		id, err := s.service.Create(tx, entity.TypeUser)
		if err != nil {
			return err
		}
		user = entity.NewUser(id, input.Username)
		if err := applyUserInput(user, input); err != nil {
			return err
		}
		if err := tx.Put(user); err != nil {
			return err
		}
		return tx.SetPassword(id, hash)
	})
	if err != nil {
		return nil, err
	}

	s.loggerWith(ctx, "CreateUser", "user_id", user.ID().String()).InfoContext(ctx, "user created")
	return user, nil
}

// UpdateUser validates input and updates an existing user for administrators.
func (s *UserService) UpdateUser(ctx context.Context, params UpdateUserParams) (*entity.User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !params.Principal.IsAdmin {
		return nil, ErrUnauthorized
	}

	input := normalizeUserInput(params.Input)
	vErr := validateUserInput(input)
	s.checkUsernameFree(input.Username, params.UserID, vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}

	var hash string
	if input.Password != "" {
		var err error
		if hash, err = s.hasher.Hash(input.Password); err != nil {
			return nil, err
		}
	}

	var user *entity.User
	_, err := s.service.Transaction(ctx, params.Principal.UserID, func(tx *Transaction) error {
		e, err := s.service.Edit(tx, params.UserID)
		if err != nil {
			return err
		}
		var ok bool
		if user, ok = e.(*entity.User); !ok {
			return fmt.Errorf("%w: %s is not a user", ErrNotFound, params.UserID)
		}
		if err := user.SetUsername(input.Username); err != nil {
			return err
		}
		if err := applyUserInput(user, input); err != nil {
			return err
		}
		if hash != "" {
			return tx.SetPassword(user.ID(), hash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user, its preferences and its password when requested
// by an administrator. Users still owning reservations cannot be removed.
func (s *UserService) DeleteUser(ctx context.Context, principal Principal, userID entity.ID) error {
	if s == nil {
		return fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return ErrUnauthorized
	}
	if userID.Type != entity.TypeUser {
		return fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	_, err := s.service.Transaction(ctx, principal.UserID, func(tx *Transaction) error {
		return s.service.Remove(tx, userID)
	})
	return err
}

// ListUsers returns all users for administrators, ordered by username.
func (s *UserService) ListUsers(ctx context.Context, principal Principal) ([]*entity.User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}

	var out []*entity.User
	_ = s.service.View(func(c *storage.LocalCache) error {
		for _, e := range c.Collection(entity.TypeUser) {
			out = append(out, e.(*entity.User))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *entity.User) int {
		if c := strings.Compare(strings.ToLower(a.Username()), strings.ToLower(b.Username())); c != 0 {
			return c
		}
		return a.ID().Compare(b.ID())
	})
	return out, nil
}

// Bootstrap creates an administrator when the store holds no users, so that
// a fresh deployment can be logged into. It reports whether a user was created.
func (s *UserService) Bootstrap(ctx context.Context, username, password string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("UserService is nil")
	}
	var users int
	_ = s.service.View(func(c *storage.LocalCache) error {
		users = c.Count(entity.TypeUser)
		return nil
	})
	if users > 0 {
		return false, nil
	}
	_, err := s.CreateUser(ctx, CreateUserParams{
		Principal: Principal{IsAdmin: true},
		Input:     UserInput{Username: username, Name: username, IsAdmin: true, Password: password},
	})
	if err != nil {
		return false, err
	}
	s.loggerWith(ctx, "Bootstrap", "username", username).InfoContext(ctx, "administrator bootstrapped")
	return true, nil
}

func (s *UserService) checkUsernameFree(username string, self entity.ID, vErr *ValidationError) {
	if username == "" {
		return
	}
	_ = s.service.View(func(c *storage.LocalCache) error {
		if existing, ok := c.User(username); ok && existing.ID() != self {
			vErr.add("username", "username is already taken")
		}
		return nil
	})
}

func applyUserInput(u *entity.User, input UserInput) error {
	if err := u.SetName(input.Name); err != nil {
		return err
	}
	if err := u.SetEmail(input.Email); err != nil {
		return err
	}
	if err := u.SetAdmin(input.IsAdmin); err != nil {
		return err
	}
	for _, g := range u.Groups() {
		if !slices.Contains(input.Groups, g) {
			if err := u.RemoveGroup(g); err != nil {
				return err
			}
		}
	}
	for _, g := range input.Groups {
		if err := u.AddGroup(g); err != nil {
			return err
		}
	}
	return nil
}

func normalizeUserInput(input UserInput) UserInput {
	out := input
	out.Username = strings.TrimSpace(input.Username)
	out.Name = strings.TrimSpace(input.Name)
	out.Email = strings.ToLower(strings.TrimSpace(input.Email))
	out.Groups = slices.Clone(input.Groups)
	return out
}

func validateUserInput(input UserInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Username == "" {
		vErr.add("username", "username is required")
	} else if strings.ContainsAny(input.Username, " \t\n") {
		vErr.add("username", "username must not contain whitespace")
	}

	if input.Email != "" {
		if _, err := mail.ParseAddress(input.Email); err != nil {
			vErr.add("email", "email is invalid")
		}
	}

	for i, g := range input.Groups {
		if g.Type != entity.TypeCategory {
			vErr.add(fmt.Sprintf("groups[%d]", i), "group must be a category")
		}
	}

	return vErr
}
