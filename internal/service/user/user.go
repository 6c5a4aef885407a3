package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/hash"
	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
	"github.com/shopagent/shopagent/internal/util"
)

const (
	codeTTL     = 10 * time.Minute
	codeTimeout = 2 * time.Second
)

// Service covers registration, email verification and admin balance
// adjustments. Verification codes live in redis with a 10-minute TTL; one
// active code per user, regeneration overwrites the prior one.
type Service struct {
	DB  *gorm.DB
	RDB *redis.Client

	locks *service.KeyedMutex
}

func NewService(db *gorm.DB, rdb *redis.Client, locks *service.KeyedMutex) *Service {
	if locks == nil {
		locks = &service.KeyedMutex{}
	}
	return &Service{DB: db, RDB: rdb, locks: locks}
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Language string `json:"language"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" || in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, "", fmt.Errorf("%w: name and a valid email are required", service.ErrValidation)
	}
	if len(in.Password) < 8 {
		return nil, "", fmt.Errorf("%w: password must be at least 8 characters", service.ErrValidation)
	}

	var existing models.User
	err := s.DB.WithContext(ctx).Where("email = ?", in.Email).First(&existing).Error
	if err == nil {
		return nil, "", fmt.Errorf("%w: email already registered", service.ErrValidation)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	pwHash, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, "", err
	}

	user := models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: pwHash,
		Role:         models.RoleUser,
		Balance:      decimal.Zero,
		Language:     in.Language,
	}
	if user.Language == "" {
		user.Language = "en"
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, "", err
	}

	code := s.IssueVerificationCode(ctx, user.ID)
	return &user, code, nil
}

func codeKey(userID uint) string { return fmt.Sprintf("verify:user:%d", userID) }

// IssueVerificationCode stores a fresh 6-digit code, invalidating any prior
// one. A redis failure is logged and an empty code returned; verification
// then falls back to auto-verify.
func (s *Service) IssueVerificationCode(ctx context.Context, userID uint) string {
	code := generateCode()
	if s.RDB == nil {
		return ""
	}

	cctx, cancel := context.WithTimeout(ctx, codeTimeout)
	defer cancel()
	if err := s.RDB.Set(cctx, codeKey(userID), code, codeTTL).Err(); err != nil {
		logging.FromContext(ctx).Warn("verification_code_store_failed", "user_id", userID, "error", err)
		return ""
	}
	return code
}

func generateCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// VerifyEmail checks the submitted code against the stored one. When the
// code store is unreachable the user is verified anyway rather than locked
// out behind a hung dependency.
func (s *Service) VerifyEmail(ctx context.Context, userID uint, code string) error {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %d", service.ErrNotFound, userID)
		}
		return err
	}
	if user.EmailVerifiedAt != nil {
		return nil
	}

	if s.RDB != nil {
		cctx, cancel := context.WithTimeout(ctx, codeTimeout)
		defer cancel()
		stored, err := s.RDB.Get(cctx, codeKey(userID)).Result()
		switch {
		case err == nil:
			if stored != code {
				return fmt.Errorf("%w: verification code does not match", service.ErrValidation)
			}
			_ = s.RDB.Del(cctx, codeKey(userID)).Err()
		case errors.Is(err, redis.Nil):
			return fmt.Errorf("%w: verification code expired", service.ErrValidation)
		default:
			logging.FromContext(ctx).Warn("verification_code_lookup_failed", "user_id", userID, "error", err)
			// fall through to auto-verify
		}
	}

	now := time.Now().UTC()
	return s.DB.WithContext(ctx).Model(&user).Update("email_verified_at", now).Error
}

// AdjustBalance is the admin credit/debit. Debits never push the balance
// negative.
func (s *Service) AdjustBalance(ctx context.Context, actor *models.User, userID uint, delta decimal.Decimal) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can adjust balances", service.ErrAuthorization)
	}

	unlock := s.locks.Lock(fmt.Sprintf("user:%d", userID))
	defer unlock()

	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %d", service.ErrNotFound, userID)
			}
			return err
		}
		if delta.IsNegative() {
			res := tx.Model(&models.User{}).
				Where("id = ? AND balance >= ?", userID, delta.Neg()).
				Update("balance", gorm.Expr("balance + ?", delta))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: adjustment would make balance negative", service.ErrInsufficientFunds)
			}
		} else {
			if err := tx.Model(&models.User{}).Where("id = ?", userID).
				Update("balance", gorm.Expr("balance + ?", delta)).Error; err != nil {
				return err
			}
		}
		return tx.First(&user, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// TouchPresence records login/logout and last-seen metadata.
func (s *Service) TouchPresence(ctx context.Context, userID uint, online bool) error {
	now := time.Now().UTC()
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": online, "last_seen_at": now}).Error
}

// ListUsers is the admin user listing.
func (s *Service) ListUsers(ctx context.Context, actor *models.User, page, size int) ([]models.User, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, fmt.Errorf("%w: only admins can list users", service.ErrAuthorization)
	}
	offset, limit := util.Paginate(page, size)

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []models.User
	if err := s.DB.WithContext(ctx).Order("id ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ResolveLocale picks the request locale once per request: the user's saved
// language wins, then the session value, then the configured default.
func ResolveLocale(user *models.User, sessionValue, def string) string {
	if user != nil && user.Language != "" {
		return user.Language
	}
	if sessionValue != "" {
		return sessionValue
	}
	return def
}
