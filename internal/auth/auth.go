package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/hellochat/internal/media"
	"github.com/4xmen/hellochat/internal/models"
	"github.com/4xmen/hellochat/internal/store"
)

var (
	ErrInvalidUsername    = errors.New("username must be between 3 and 32 characters")
	ErrUsernameCharset    = errors.New("username can only contain letters, numbers, and underscores")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrProfileTooLong     = errors.New("display name or bio is too long")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Profiles is the store side of profile reads and writes.
type Profiles interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, p store.ProfileUpdate) (*models.User, error)
}

type Service struct {
	db        *sql.DB
	profiles  Profiles
	media     media.Uploader
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, profiles Profiles, uploader media.Uploader, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		profiles:  profiles,
		media:     uploader,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// Register creates an account and returns the new user.
func (s *Service) Register(ctx context.Context, username, password, displayName string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return nil, ErrInvalidUsername
	}
	if !usernamePattern.MatchString(username) {
		return nil, ErrUsernameCharset
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var display any
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		display = displayName
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, display_name) VALUES (?, ?, ?)",
		username,
		string(hash),
		display,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}
	return s.profiles.GetUser(ctx, id)
}

// Login checks credentials and returns a signed token with the user.
func (s *Service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	username = strings.TrimSpace(username)

	var userID int64
	var passwordHash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM users WHERE username = ?",
		username,
	).Scan(&userID, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.GenerateToken(userID, username)
	if err != nil {
		return "", nil, err
	}

	user, err := s.profiles.GetUser(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}
	return token, user, nil
}

func (s *Service) GenerateToken(userID int64, username string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken parses tokenString. Every failure wraps ErrInvalidToken.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Authenticate validates the token and confirms the user still exists.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	exists, err := s.UserExists(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	return claims, nil
}

func (s *Service) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

func (s *Service) CurrentUser(ctx context.Context, userID int64) (*models.User, error) {
	u, err := s.profiles.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ProfileInput carries optional profile changes. Avatar is a base64 data URL.
type ProfileInput struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	Avatar      string  `json:"avatar"`
}

// UpdateProfile applies the set fields, uploading a new avatar first.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*models.User, error) {
	update := store.ProfileUpdate{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if len(name) > 64 {
			return nil, ErrProfileTooLong
		}
		update.DisplayName = &name
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if len(bio) > 280 {
			return nil, ErrProfileTooLong
		}
		update.Bio = &bio
	}

	var previous *string
	if in.Avatar != "" {
		current, err := s.CurrentUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		previous = current.AvatarURL

		url, err := s.media.Upload(ctx, in.Avatar)
		if err != nil {
			return nil, err
		}
		update.AvatarURL = &url
	}

	user, err := s.profiles.UpdateProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if previous != nil && *previous != "" {
		_ = s.media.Remove(ctx, *previous)
	}
	return user, nil
}
