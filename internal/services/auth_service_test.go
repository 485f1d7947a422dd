package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/maynagashev/fieldsync/internal/models"
	"github.com/maynagashev/fieldsync/internal/repository"
	"github.com/maynagashev/fieldsync/internal/services"
)

const testSecret = "test-secret"

// mockUserRepository - мок repository.UserRepository.
type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) CreateUser(ctx context.Context, user *models.User) (int64, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func newAuthService(repo repository.UserRepository, now time.Time) *services.AuthService {
	return services.NewAuthService(repo, testSecret, time.Hour, fixedClock{now: now}, testLogger())
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		input     services.RegisterInput
		mockSetup func(repo *mockUserRepository)
		wantErr   error
		wantRole  string
	}{
		{
			name:  "Успешная регистрация инспектора по умолчанию",
			input: services.RegisterInput{Email: " Ivan@Example.com ", Password: "password123"},
			mockSetup: func(repo *mockUserRepository) {
				repo.On("CreateUser", ctx, mock.MatchedBy(func(u *models.User) bool {
					return u.Email == "ivan@example.com" && u.PasswordHash != "password123"
				})).Return(int64(1), nil).Once()
			},
			wantRole: models.RoleInspector,
		},
		{
			name:  "Регистрация менеджера",
			input: services.RegisterInput{Email: "boss@example.com", Password: "password123", Role: models.RoleManager},
			mockSetup: func(repo *mockUserRepository) {
				repo.On("CreateUser", ctx, mock.AnythingOfType("*models.User")).Return(int64(2), nil).Once()
			},
			wantRole: models.RoleManager,
		},
		{
			name:      "Некорректный email",
			input:     services.RegisterInput{Email: "not-an-email", Password: "password123"},
			mockSetup: func(_ *mockUserRepository) {},
			wantErr:   services.ErrValidation,
		},
		{
			name:      "Короткий пароль",
			input:     services.RegisterInput{Email: "ivan@example.com", Password: "short"},
			mockSetup: func(_ *mockUserRepository) {},
			wantErr:   services.ErrValidation,
		},
		{
			name:      "Неизвестная роль",
			input:     services.RegisterInput{Email: "ivan@example.com", Password: "password123", Role: "admin"},
			mockSetup: func(_ *mockUserRepository) {},
			wantErr:   services.ErrValidation,
		},
		{
			name:  "Email занят",
			input: services.RegisterInput{Email: "ivan@example.com", Password: "password123"},
			mockSetup: func(repo *mockUserRepository) {
				repo.On("CreateUser", ctx, mock.AnythingOfType("*models.User")).
					Return(int64(0), repository.ErrEmailTaken).Once()
			},
			wantErr: services.ErrEmailTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockUserRepository)
			tt.mockSetup(repo)

			user, err := newAuthService(repo, testNow).Register(ctx, tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRole, user.Role)
				assert.NotZero(t, user.ID)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_RegisterRepositoryError(t *testing.T) {
	repo := new(mockUserRepository)
	repo.On("CreateUser", mock.Anything, mock.Anything).Return(int64(0), errors.New("some db error")).Once()

	_, err := newAuthService(repo, testNow).Register(context.Background(),
		services.RegisterInput{Email: "ivan@example.com", Password: "password123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "внутренняя ошибка сервера при создании пользователя")
	_, known := services.ErrorCode(err)
	assert.False(t, known)
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := &models.User{ID: 7, Email: "ivan@example.com", PasswordHash: string(hash), Role: models.RoleInspector}

	tests := []struct {
		name      string
		email     string
		password  string
		mockSetup func(repo *mockUserRepository)
		wantErr   error
	}{
		{
			name:     "Успешный вход",
			email:    "IVAN@example.com",
			password: "password123",
			mockSetup: func(repo *mockUserRepository) {
				repo.On("GetUserByEmail", ctx, "ivan@example.com").Return(stored, nil).Once()
			},
		},
		{
			name:     "Пользователь не найден",
			email:    "nobody@example.com",
			password: "password123",
			mockSetup: func(repo *mockUserRepository) {
				repo.On("GetUserByEmail", ctx, "nobody@example.com").Return(nil, repository.ErrUserNotFound).Once()
			},
			wantErr: services.ErrInvalidCredentials,
		},
		{
			name:     "Неверный пароль",
			email:    "ivan@example.com",
			password: "wrong-password",
			mockSetup: func(repo *mockUserRepository) {
				repo.On("GetUserByEmail", ctx, "ivan@example.com").Return(stored, nil).Once()
			},
			wantErr: services.ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockUserRepository)
			tt.mockSetup(repo)
			svc := newAuthService(repo, time.Now())

			token, user, err := svc.Login(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, token)
			} else {
				require.NoError(t, err)
				assert.Equal(t, stored.ID, user.ID)

				claims, err := svc.ParseToken(token)
				require.NoError(t, err)
				assert.Equal(t, stored.ID, claims.UserID)
				assert.Equal(t, models.RoleInspector, claims.Role)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAuthService_ParseToken(t *testing.T) {
	svc := newAuthService(new(mockUserRepository), time.Now())

	sign := func(method jwt.SigningMethod, key any, claims services.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	valid := services.Claims{
		UserID: 1,
		Role:   models.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fieldsync-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	foreign := valid
	foreign.Issuer = "someone-else"

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "Валидный токен", token: sign(jwt.SigningMethodHS256, []byte(testSecret), valid)},
		{name: "Чужой секрет", token: sign(jwt.SigningMethodHS256, []byte("other"), valid), wantErr: true},
		{name: "Истекший токен", token: sign(jwt.SigningMethodHS256, []byte(testSecret), expired), wantErr: true},
		{name: "Чужой издатель", token: sign(jwt.SigningMethodHS256, []byte(testSecret), foreign), wantErr: true},
		{name: "Мусор вместо токена", token: "not.a.token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ParseToken(tt.token)
			if tt.wantErr {
				require.ErrorIs(t, err, services.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1), claims.UserID)
			assert.Equal(t, models.RoleManager, claims.Role)
		})
	}
}
