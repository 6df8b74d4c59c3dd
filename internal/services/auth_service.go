package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

// ErrInvalidCredentials неверный логин или пароль
var ErrInvalidCredentials = errors.New("неверный логин или пароль")

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("недействительный или просроченный токен")

const tokenTTL = 24 * time.Hour

// Claims содержимое JWT пользователя
type Claims struct {
	UserID string          `json:"user_id"`
	Login  string          `json:"login"`
	Role   models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// AuthService вход пользователей и проверка токенов
type AuthService struct {
	store  repository.Store
	secret []byte
	now    func() time.Time
}

// NewAuthService создает новый экземпляр AuthService
func NewAuthService(store repository.Store, secret string) *AuthService {
	return &AuthService{store: store, secret: []byte(secret), now: time.Now}
}

// HashPassword bcrypt-хеш пароля
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка хеширования пароля: %w", err)
	}
	return string(hash), nil
}

// Login проверяет пароль и выдает токен
func (s *AuthService) Login(ctx context.Context, login, password string) (string, *models.User, error) {
	user, err := s.store.GetUserByLogin(ctx, login)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("ошибка проверки учетных данных: %w", err)
	}
	if !user.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken подписывает HS256 токен пользователя
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		Login:  user.Login,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок токена
func (s *AuthService) ParseToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// EnsureAdmin создает администратора, если пользователя с таким логином нет
func (s *AuthService) EnsureAdmin(ctx context.Context, login, password string) error {
	if login == "" || password == "" {
		return nil
	}
	_, err := s.store.GetUserByLogin(ctx, login)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.SaveUser(ctx, &models.User{
		Login:        login,
		Name:         login,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	})
}
