package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"nebripop-wallet-service/internal/core/domain"
	"nebripop-wallet-service/internal/core/ports"
	"nebripop-wallet-service/internal/core/ports/mocks"
	"nebripop-wallet-service/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupAuthService(t *testing.T) (
	*AuthServiceImpl,
	*mocks.MockUserRepository,
	*mocks.MockAccountRepository,
	*mocks.MockHashService,
	*mocks.MockTokenService,
	*gomock.Controller,
) {
	ctrl := gomock.NewController(t)
	userRepo := mocks.NewMockUserRepository(ctrl)
	accountRepo := mocks.NewMockAccountRepository(ctrl)
	hashSvc := mocks.NewMockHashService(ctrl)
	tokenSvc := mocks.NewMockTokenService(ctrl)

	svc := NewAuthService(userRepo, accountRepo, hashSvc, tokenSvc)
	return svc, userRepo, accountRepo, hashSvc, tokenSvc, ctrl
}

func TestAuthService_Register_Success(t *testing.T) {
	svc, userRepo, accountRepo, hashSvc, _, ctrl := setupAuthService(t)
	defer ctrl.Finish()

	ctx := context.Background()
	req := ports.RegisterRequest{
		Username: "new_user",
		Password: "StrongP@ss123",
	}

	// Expect: check username uniqueness
	userRepo.EXPECT().GetByUsername(ctx, req.Username).Return(nil, nil)
	// Expect: hash password
	hashSvc.EXPECT().Hash(req.Password).Return("$argon2id$hashed", nil)
	// Expect: create user (fills generated ID)
	userRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, u *domain.User) error {
			assert.Equal(t, "new_user", u.Username)
			assert.Equal(t, "$argon2id$hashed", u.PasswordHash)
			assert.Equal(t, domain.UserStatusActive, u.Status)
			u.ID = 42
			return nil
		})
	// Expect: create zero-balance wallet account
	accountRepo.EXPECT().CreateIfAbsent(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Account) error {
			assert.Equal(t, int64(42), a.UserID)
			assert.Equal(t, int64(0), a.Balance)
			return nil
		})

	user, err := svc.Register(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(42), user.ID)
}

func TestAuthService_Register_DuplicateUsername(t *testing.T) {
	svc, userRepo, _, _, _, ctrl := setupAuthService(t)
	defer ctrl.Finish()

	ctx := context.Background()
	req := ports.RegisterRequest{Username: "existing_user", Password: "password"}

	existing := &domain.User{ID: 1, Username: "existing_user"}
	userRepo.EXPECT().GetByUsername(ctx, req.Username).Return(existing, nil)

	user, err := svc.Register(ctx, req)
	assert.Nil(t, user)
	require.Error(t, err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "AUTH_002", appErr.Code)
}

func TestAuthService_Login_Success(t *testing.T) {
	svc, userRepo, _, hashSvc, tokenSvc, ctrl := setupAuthService(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := &domain.User{
		ID:           42,
		Username:     "test_user",
		PasswordHash: "$argon2id$hashed",
		Status:       domain.UserStatusActive,
	}

	userRepo.EXPECT().GetByUsername(ctx, "test_user").Return(user, nil)
	hashSvc.EXPECT().Verify("correct_password", "$argon2id$hashed").Return(true, nil)
	tokenSvc.EXPECT().Generate(int64(42), "test_user").Return("jwt_token_here", time.Now().Add(24*time.Hour), nil)

	token, _, err := svc.Login(ctx, "test_user", "correct_password")
	require.NoError(t, err)
	assert.Equal(t, "jwt_token_here", token)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc, userRepo, _, hashSvc, _, ctrl := setupAuthService(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := &domain.User{
		ID:           42,
		Username:     "test_user",
		PasswordHash: "$argon2id$hashed",
		Status:       domain.UserStatusActive,
	}

	userRepo.EXPECT().GetByUsername(ctx, "test_user").Return(user, nil)
	hashSvc.EXPECT().Verify("wrong_password", "$argon2id$hashed").Return(false, nil)

	_, _, err := svc.Login(ctx, "test_user", "wrong_password")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "AUTH_001", appErr.Code)
}

func TestAuthService_Login_UnknownUser(t *testing.T) {
	svc, userRepo, _, _, _, ctrl := setupAuthService(t)
	defer ctrl.Finish()

	ctx := context.Background()
	userRepo.EXPECT().GetByUsername(ctx, "ghost").Return(nil, nil)

	_, _, err := svc.Login(ctx, "ghost", "password")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "AUTH_001", appErr.Code)
}

func TestAuthService_Login_SuspendedUser(t *testing.T) {
	svc, userRepo, _, hashSvc, _, ctrl := setupAuthService(t)
	defer ctrl.Finish()

	ctx := context.Background()
	user := &domain.User{
		ID:           42,
		Username:     "banned_user",
		PasswordHash: "$argon2id$hashed",
		Status:       domain.UserStatusSuspended,
	}

	userRepo.EXPECT().GetByUsername(ctx, "banned_user").Return(user, nil)
	hashSvc.EXPECT().Verify("password", "$argon2id$hashed").Return(true, nil)

	_, _, err := svc.Login(ctx, "banned_user", "password")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "AUTH_004", appErr.Code)
}
