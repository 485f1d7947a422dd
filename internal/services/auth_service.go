package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
)

const (
	tokenIssuer       = "fieldsync-server"
	minPasswordLength = 8
)

// Claims - полезная нагрузка JWT.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RegisterInput - данные для регистрации пользователя.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// AuthService выдает и проверяет токены доступа.
type AuthService struct {
	users    repository.UserRepository
	secret   []byte
	tokenTTL time.Duration
	clock    Clock
	logger   *slog.Logger
}

// NewAuthService создает новый экземпляр сервиса аутентификации.
func NewAuthService(
	users repository.UserRepository,
	secret string,
	tokenTTL time.Duration,
	clock Clock,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		clock:    clock,
		logger:   logger.With(slog.String("component", "AuthService")),
	}
}

// Register регистрирует нового пользователя. Роль по умолчанию - инспектор.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, validationErrorf("некорректный email %q", in.Email)
	}
	if len(in.Password) < minPasswordLength {
		return nil, validationErrorf("пароль должен содержать не менее %d символов", minPasswordLength)
	}
	role := in.Role
	if role == "" {
		role = models.RoleInspector
	}
	if role != models.RoleInspector && role != models.RoleManager {
		return nil, validationErrorf("недопустимая роль %q", in.Role)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("Ошибка хеширования пароля", slog.String("email", email), slog.Any("error", err))
		return nil, errors.New("внутренняя ошибка сервера при хешировании пароля")
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
	}

	user.ID, err = s.users.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("внутренняя ошибка сервера при создании пользователя: %w", err)
	}

	s.logger.Info("Пользователь зарегистрирован", slog.Int64("user_id", user.ID), slog.String("role", role))
	return user, nil
}

// Login аутентифицирует пользователя и возвращает JWT токен.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Info("Попытка входа несуществующего пользователя", slog.String("email", email))
			// Общая ошибка для несуществующего пользователя и неверного пароля
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("внутренняя ошибка сервера при поиске пользователя: %w", err)
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("Неверный пароль", slog.Int64("user_id", user.ID))
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.generateJWT(user)
	if err != nil {
		return "", nil, fmt.Errorf("внутренняя ошибка сервера при генерации токена: %w", err)
	}

	s.logger.Info("Пользователь аутентифицирован", slog.Int64("user_id", user.ID))
	return token, user, nil
}

// ParseToken проверяет подпись и срок действия токена.
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Убеждаемся, что метод подписи - HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// generateJWT создает и подписывает JWT токен для пользователя.
func (s *AuthService) generateJWT(user *models.User) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}
	return signedToken, nil
}

// Кастомные ошибки сервиса.
var (
	ErrInvalidCredentials = errors.New("неверный email или пароль")
	ErrEmailTaken         = errors.New("email уже зарегистрирован")
	ErrInvalidToken       = errors.New("невалидный токен")
)
