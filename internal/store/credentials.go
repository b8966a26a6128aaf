package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/autocommitor/autocommitor/internal/automation"
	"github.com/autocommitor/autocommitor/internal/models"
	"github.com/autocommitor/autocommitor/internal/security"
	"gorm.io/gorm"
)

const maxAuthErrorLength = 500

// CredentialStore resolves owner tokens and tracks their health.
type CredentialStore struct {
	db     *gorm.DB
	cipher *security.TokenCipher
	now    func() time.Time
}

// NewCredentialStore wraps db. A nil cipher stores tokens unsealed.
func NewCredentialStore(db *gorm.DB, cipher *security.TokenCipher) *CredentialStore {
	return &CredentialStore{db: db, cipher: cipher, now: time.Now}
}

// Token returns the decrypted token of userID. Owners flagged invalid yield
// automation.ErrCredentialSuspended.
func (s *CredentialStore) Token(ctx context.Context, userID uint64) (string, error) {
	user, errUser := s.loadUser(ctx, userID)
	if errUser != nil {
		if errors.Is(errUser, gorm.ErrRecordNotFound) {
			return "", automation.ErrCredentialUnavailable
		}
		return "", errUser
	}
	if user.TokenInvalid {
		return "", automation.ErrCredentialSuspended
	}
	if strings.TrimSpace(user.GitHubAccessToken) == "" {
		return "", automation.ErrCredentialUnavailable
	}
	token, errOpen := s.cipher.Open(user.GitHubAccessToken)
	if errOpen != nil {
		return "", fmt.Errorf("store: open token of user %d: %w", userID, errOpen)
	}
	return token, nil
}

// MarkInvalid flags the token of userID as rejected by the provider.
func (s *CredentialStore) MarkInvalid(ctx context.Context, userID uint64, reason string) error {
	return s.updateHealth(ctx, userID, true, reason)
}

// MarkValid clears the invalid flag of userID after a successful check.
func (s *CredentialStore) MarkValid(ctx context.Context, userID uint64) error {
	return s.updateHealth(ctx, userID, false, "")
}

// StoredToken returns the decrypted token of userID even when it is flagged invalid.
func (s *CredentialStore) StoredToken(ctx context.Context, userID uint64) (string, error) {
	user, errUser := s.loadUser(ctx, userID)
	if errUser != nil {
		return "", errUser
	}
	if strings.TrimSpace(user.GitHubAccessToken) == "" {
		return "", automation.ErrCredentialUnavailable
	}
	return s.cipher.Open(user.GitHubAccessToken)
}

// SetToken seals and stores token for userID and clears the invalid flag.
func (s *CredentialStore) SetToken(ctx context.Context, userID uint64, token string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	sealed, errSeal := s.cipher.Seal(strings.TrimSpace(token))
	if errSeal != nil {
		return errSeal
	}
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"github_access_token": sealed,
			"token_invalid":       false,
			"last_auth_error":     "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: user %d: %w", userID, gorm.ErrRecordNotFound)
	}
	return nil
}

// Disconnect clears the stored token of userID and stops all of its active rules in one
// transaction. It returns the number of rules stopped.
func (s *CredentialStore) Disconnect(ctx context.Context, userID uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}
	var stopped int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"github_access_token": "",
				"token_invalid":       false,
				"last_auth_error":     "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("store: user %d: %w", userID, gorm.ErrRecordNotFound)
		}
		resRules := tx.Model(&models.Automation{}).
			Where("user_id = ? AND status = ?", userID, models.AutomationStatusActive).
			Update("status", models.AutomationStatusStopped)
		if resRules.Error != nil {
			return resRules.Error
		}
		stopped = resRules.RowsAffected
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return stopped, nil
}

func (s *CredentialStore) updateHealth(ctx context.Context, userID uint64, invalid bool, reason string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	reason = truncateReason(strings.TrimSpace(reason))
	checkedAt := s.now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"token_invalid":      invalid,
			"last_auth_check_at": checkedAt,
			"last_auth_error":    reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: user %d: %w", userID, gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *CredentialStore) loadUser(ctx context.Context, userID uint64) (models.User, error) {
	if s == nil || s.db == nil {
		return models.User{}, errNilDB
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		return models.User{}, errFind
	}
	return user, nil
}

// truncateReason caps reason at maxAuthErrorLength bytes without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxAuthErrorLength {
		return reason
	}
	cut := maxAuthErrorLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
