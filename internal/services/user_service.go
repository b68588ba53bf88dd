package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const (
	minPasswordLength = 6
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordBytes = 72
	maxNameLength    = 100
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid input.
	ErrUserInvalidInput = errors.New("user service: invalid input")
	// ErrUserNotFound indicates the requested account does not exist.
	ErrUserNotFound = errors.New("user service: not found")
	// ErrUserConflict indicates the email address is already registered.
	ErrUserConflict = errors.New("user service: email already registered")
	// ErrUserInvalidCredentials indicates the email and password do not match an account.
	ErrUserInvalidCredentials = errors.New("user service: invalid credentials")
	// ErrUserUnavailable indicates a backend failure.
	ErrUserUnavailable = errors.New("user service: unavailable")
)

var userRepoErrors = repoErrors{notFound: ErrUserNotFound, conflict: ErrUserConflict, unavailable: ErrUserUnavailable}

// UserServiceDeps wires the collaborators of the user service.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Tokens      TokenIssuer
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
	// HashCost overrides the bcrypt cost; tests use bcrypt.MinCost.
	HashCost int
}

type userService struct {
	users     repositories.UserRepository
	tokens    TokenIssuer
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	newID     func() string
	hashCost  int
	dummyHash []byte
}

var _ UserService = (*userService)(nil)

// NewUserService constructs a UserService enforcing dependency validation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service: token issuer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return domain.NewID(domain.UserIDPrefix) }
	}
	cost := deps.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("user service: prepare dummy hash: %w", err)
	}
	return &userService{
		users:     deps.Users,
		tokens:    deps.Tokens,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		newID:     idGen,
		hashCost:  cost,
		dummyHash: dummy,
	}, nil
}

func (s *userService) Register(ctx context.Context, cmd RegisterCommand) (AuthResult, error) {
	user, err := s.newUser(cmd.Name, cmd.Email, cmd.Password, domain.RoleUser)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return AuthResult{}, userRepoErrors.translate(err)
	}
	s.logger(ctx, "user.registered", map[string]any{"userID": user.ID})
	return s.authenticate(user)
}

func (s *userService) Login(ctx context.Context, cmd LoginCommand) (AuthResult, error) {
	email, password := normaliseEmail(cmd.Email), cmd.Password
	if email == "" || password == "" {
		return AuthResult{}, ErrUserInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if isRepoNotFound(err) {
			// unknown emails still pay for one bcrypt comparison
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return AuthResult{}, ErrUserInvalidCredentials
		}
		return AuthResult{}, userRepoErrors.translate(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger(ctx, "user.login_failed", map[string]any{"userID": user.ID})
		return AuthResult{}, ErrUserInvalidCredentials
	}
	return s.authenticate(user)
}

func (s *userService) GetProfile(ctx context.Context, caller Principal) (User, error) {
	if caller.Anonymous() {
		return User{}, domain.ErrForbidden
	}
	return s.FindUser(ctx, caller.ID)
}

func (s *userService) FindUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, invalidField(ErrUserInvalidInput, "id", "user id is required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, userRepoErrors.translate(err)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, caller Principal, cmd UpdateProfileCommand) (User, error) {
	user, err := s.GetProfile(ctx, caller)
	if err != nil {
		return User{}, err
	}
	previousEmail := user.Email
	if err := s.applyChanges(&user, cmd.Name, cmd.Email, cmd.Password); err != nil {
		return User{}, err
	}
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user, previousEmail); err != nil {
		return User{}, userRepoErrors.translate(err)
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, caller Principal, pager Pagination) (domain.CursorPage[User], error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return domain.CursorPage[User]{}, err
	}
	page, err := s.users.List(ctx, pager)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[User]{}, invalidField(ErrUserInvalidInput, "pageToken", "page token is invalid")
		}
		return domain.CursorPage[User]{}, userRepoErrors.translate(err)
	}
	return page, nil
}

func (s *userService) CreateUser(ctx context.Context, caller Principal, cmd CreateUserCommand) (User, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return User{}, err
	}
	role := domain.RoleUser
	if strings.TrimSpace(cmd.Role) != "" {
		parsed, ok := domain.ParseRole(cmd.Role)
		if !ok {
			return User{}, invalidField(ErrUserInvalidInput, "role", "role must be one of user, admin, superAdmin")
		}
		role = parsed
	}
	user, err := s.newUser(cmd.Name, cmd.Email, cmd.Password, role)
	if err != nil {
		return User{}, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return User{}, userRepoErrors.translate(err)
	}
	s.logger(ctx, "user.created", map[string]any{"userID": user.ID, "role": string(role), "actorID": caller.ID})
	return user, nil
}

func (s *userService) UpdateUser(ctx context.Context, caller Principal, cmd UpdateUserCommand) (User, error) {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return User{}, err
	}
	user, err := s.FindUser(ctx, cmd.UserID)
	if err != nil {
		return User{}, err
	}
	previousEmail := user.Email
	if err := s.applyChanges(&user, cmd.Name, cmd.Email, nil); err != nil {
		return User{}, err
	}
	if cmd.Role != nil {
		role, ok := domain.ParseRole(*cmd.Role)
		if !ok {
			return User{}, invalidField(ErrUserInvalidInput, "role", "role must be one of user, admin, superAdmin")
		}
		user.Role = role
	}
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user, previousEmail); err != nil {
		return User{}, userRepoErrors.translate(err)
	}
	s.logger(ctx, "user.updated", map[string]any{"userID": user.ID, "role": string(user.Role), "actorID": caller.ID})
	return user, nil
}

func (s *userService) DeleteUser(ctx context.Context, caller Principal, userID string) error {
	if err := domain.Authorize(caller, domain.Requirement{MinRole: domain.RoleSuperAdmin}); err != nil {
		return err
	}
	user, err := s.FindUser(ctx, userID)
	if err != nil {
		return err
	}
	if caller.Owns(user.ID) {
		return invalidField(ErrUserInvalidInput, "id", "cannot delete your own account")
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return userRepoErrors.translate(err)
	}
	s.logger(ctx, "user.deleted", map[string]any{"userID": user.ID, "actorID": caller.ID})
	return nil
}

func (s *userService) AssignRole(ctx context.Context, userID string, role domain.Role) (User, error) {
	if _, ok := domain.ParseRole(string(role)); !ok {
		return User{}, invalidField(ErrUserInvalidInput, "role", "role must be one of user, admin, superAdmin")
	}
	user, err := s.FindUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Role == role {
		return user, nil
	}
	user.Role = role
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user, user.Email); err != nil {
		return User{}, userRepoErrors.translate(err)
	}
	s.logger(ctx, "user.role_assigned", map[string]any{"userID": user.ID, "role": string(role)})
	return user, nil
}

func (s *userService) newUser(name, email, password string, role domain.Role) (User, error) {
	name = textutil.PlainText(name)
	if err := validateName(name); err != nil {
		return User{}, err
	}
	email = normaliseEmail(email)
	if err := validateEmail(email); err != nil {
		return User{}, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return User{}, err
	}
	now := s.now()
	return User{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *userService) applyChanges(user *User, name, email, password *string) error {
	if name != nil {
		value := textutil.PlainText(*name)
		if err := validateName(value); err != nil {
			return err
		}
		user.Name = value
	}
	if email != nil {
		value := normaliseEmail(*email)
		if err := validateEmail(value); err != nil {
			return err
		}
		user.Email = value
	}
	if password != nil && *password != "" {
		hash, err := s.hashPassword(*password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
	}
	return nil
}

func (s *userService) hashPassword(password string) (string, error) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", invalidField(ErrUserInvalidInput, "password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return "", invalidField(ErrUserInvalidInput, "password", "password is too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("%w: hash password: %v", ErrUserUnavailable, err)
	}
	return string(hash), nil
}

func (s *userService) authenticate(user User) (AuthResult, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: issue token: %v", ErrUserUnavailable, err)
	}
	return AuthResult{User: user, Token: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

func validateName(name string) error {
	if name == "" {
		return invalidField(ErrUserInvalidInput, "name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return invalidField(ErrUserInvalidInput, "name", "name is too long")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalidField(ErrUserInvalidInput, "email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalidField(ErrUserInvalidInput, "email", "email is invalid")
	}
	return nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
