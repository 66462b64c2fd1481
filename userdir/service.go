package userdir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong login or password.
	ErrInvalidCredentials = errors.New("userdir: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("userdir: password must be at least 8 characters")
)

// Service resolves acting users: interactive operators by credential or
// token, arbitrary principals by find-or-create, and the automated system
// actor.
type Service struct {
	repo      Repository
	jwtSecret []byte
	logger    *slog.Logger
}

func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		logger:    slog.Default(),
	}
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// FindOrCreate resolves the user behind a principal name, creating a
// directory entry on first sight. Email-shaped principals get their display
// name derived from the mailbox part.
func (s *Service) FindOrCreate(ctx context.Context, principal string) (User, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return User{}, fmt.Errorf("userdir: empty principal")
	}

	user, err := s.repo.GetByLogin(ctx, principal)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	s.logger.Info("creating directory user", "principal", principal)

	params := CreateUserParams{
		Login: principal,
		Name:  principal,
		Role:  RoleOperator,
	}
	if isEmail(principal) {
		params.Email = principal
		params.Name = displayNameFromEmail(principal)
	}

	created, err := s.repo.Create(ctx, params)
	if err != nil {
		if errors.Is(err, ErrDuplicateLogin) {
			// lost the race; the row exists now
			return s.repo.GetByLogin(ctx, principal)
		}
		return User{}, err
	}
	return created, nil
}

// System returns the automated actor used for externally triggered
// transitions. Its absence is a deployment fault, not a caller problem.
func (s *Service) System(ctx context.Context) (User, error) {
	user, err := s.repo.GetByLogin(ctx, SystemLogin)
	if err != nil {
		return User{}, fmt.Errorf("userdir: system user missing: %w", err)
	}
	return user, nil
}

// SystemID satisfies the lifecycle's Directory dependency.
func (s *Service) SystemID(ctx context.Context) (string, error) {
	user, err := s.System(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// GetByID retrieves a directory user by identifier.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// Register provisions an operator account with hashed credentials.
func (s *Service) Register(ctx context.Context, params RegisterParams) (User, error) {
	if len(params.Password) < 8 {
		return User{}, ErrWeakPassword
	}
	if params.Login == "" || params.Name == "" {
		return User{}, fmt.Errorf("userdir: login and name are required")
	}

	role := params.Role
	if role == "" {
		role = RoleOperator
	}
	if role != RoleOperator && role != RoleAdmin {
		return User{}, fmt.Errorf("userdir: invalid role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("userdir: hash password: %w", err)
	}

	create := CreateUserParams{
		Login:        params.Login,
		Name:         params.Name,
		PasswordHash: string(hash),
		Role:         role,
	}
	if isEmail(params.Login) {
		create.Email = params.Login
	}
	return s.repo.Create(ctx, create)
}

// Login authenticates an operator and returns a signed token.
func (s *Service) Login(ctx context.Context, login, password string) (LoginResult, error) {
	user, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if user.PasswordHash == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("userdir: generate token: %w", err)
	}
	return LoginResult{Token: token, User: user}, nil
}

// VerifyToken validates a token and returns the embedded user id and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("userdir: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("userdir: invalid token")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", "", fmt.Errorf("userdir: invalid user_id in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", "", fmt.Errorf("userdir: invalid role in token")
	}
	return userID, Role(roleStr), nil
}

func (s *Service) generateToken(user User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"role":    string(user.Role),
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

var emailPattern = regexp.MustCompile(`^[_A-Za-z0-9+-]+(\.[_A-Za-z0-9-]+)*@[A-Za-z0-9-]+(\.[A-Za-z0-9]+)*(\.[A-Za-z]{2,})$`)

func isEmail(principal string) bool {
	return emailPattern.MatchString(principal)
}

// displayNameFromEmail turns "john.doe@example.com" into "John Doe".
func displayNameFromEmail(email string) string {
	local := strings.SplitN(email, "@", 2)[0]
	verbs := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == ' ' })
	for i, verb := range verbs {
		verbs[i] = strings.ToUpper(verb[:1]) + verb[1:]
	}
	return strings.Join(verbs, " ")
}
