package user

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/hash"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
)

func InitTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	return NewService(InitTestDB(t), nil, nil)
}

func TestRegister(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, err := svc.Register(ctx, RegisterInput{
		Name:     "Alice",
		Email:    "  ALICE@Example.COM ",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)
	require.Equal(t, models.RoleUser, u.Role)
	require.Equal(t, "en", u.Language)
	require.True(t, u.Balance.IsZero())
	require.NotEqual(t, "correct horse", u.PasswordHash)
	require.True(t, hash.CheckPassword(u.PasswordHash, "correct horse"))

	// the email is taken regardless of case
	_, _, err = svc.Register(ctx, RegisterInput{Name: "Evil Alice", Email: "Alice@example.com", Password: "long enough"})
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []RegisterInput{
		{Name: "", Email: "a@example.com", Password: "long enough"},
		{Name: "A", Email: "", Password: "long enough"},
		{Name: "A", Email: "not-an-email", Password: "long enough"},
		{Name: "A", Email: "a@example.com", Password: "short"},
	}
	for _, in := range cases {
		_, _, err := svc.Register(ctx, in)
		require.ErrorIs(t, err, service.ErrValidation)
	}
}

func TestVerifyEmailWithoutCodeStore(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, code, err := svc.Register(ctx, RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "long enough"})
	require.NoError(t, err)
	require.Empty(t, code)

	// no code store configured: verification falls back to auto-verify
	require.NoError(t, svc.VerifyEmail(ctx, u.ID, "anything"))

	var fresh models.User
	require.NoError(t, svc.DB.First(&fresh, u.ID).Error)
	require.NotNil(t, fresh.EmailVerifiedAt)

	// verifying twice is a no-op
	require.NoError(t, svc.VerifyEmail(ctx, u.ID, "anything"))

	require.ErrorIs(t, svc.VerifyEmail(ctx, 9999, "x"), service.ErrNotFound)
}

func TestAdjustBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	admin := models.User{Name: "admin", Email: "admin@example.com", PasswordHash: "x", Role: models.RoleAdmin}
	require.NoError(t, svc.DB.Create(&admin).Error)
	target := models.User{Name: "t", Email: "t@example.com", PasswordHash: "x", Role: models.RoleUser, Balance: decimal.RequireFromString("50.00")}
	require.NoError(t, svc.DB.Create(&target).Error)

	_, err := svc.AdjustBalance(ctx, &target, target.ID, decimal.New(10, 0))
	require.ErrorIs(t, err, service.ErrAuthorization)

	credited, err := svc.AdjustBalance(ctx, &admin, target.ID, decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.True(t, credited.Balance.Equal(decimal.RequireFromString("75.50")))

	debited, err := svc.AdjustBalance(ctx, &admin, target.ID, decimal.RequireFromString("-75.50"))
	require.NoError(t, err)
	require.True(t, debited.Balance.IsZero())

	// a debit past zero is rejected and leaves the balance alone
	_, err = svc.AdjustBalance(ctx, &admin, target.ID, decimal.RequireFromString("-0.01"))
	require.ErrorIs(t, err, service.ErrInsufficientFunds)

	_, err = svc.AdjustBalance(ctx, &admin, 9999, decimal.New(1, 0))
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestTouchPresence(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u := models.User{Name: "p", Email: "p@example.com", PasswordHash: "x", Role: models.RoleUser}
	require.NoError(t, svc.DB.Create(&u).Error)

	require.NoError(t, svc.TouchPresence(ctx, u.ID, true))

	var fresh models.User
	require.NoError(t, svc.DB.First(&fresh, u.ID).Error)
	require.True(t, fresh.IsOnline)
	require.NotNil(t, fresh.LastSeenAt)

	require.NoError(t, svc.TouchPresence(ctx, u.ID, false))
	require.NoError(t, svc.DB.First(&fresh, u.ID).Error)
	require.False(t, fresh.IsOnline)
}

func TestResolveLocale(t *testing.T) {
	withLang := &models.User{Language: "ru"}
	noLang := &models.User{}

	require.Equal(t, "ru", ResolveLocale(withLang, "de", "en"))
	require.Equal(t, "de", ResolveLocale(noLang, "de", "en"))
	require.Equal(t, "en", ResolveLocale(noLang, "", "en"))
	require.Equal(t, "en", ResolveLocale(nil, "", "en"))
}
