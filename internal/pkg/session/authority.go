package session

import (
	"fmt"

	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
)

// New builds both issuers from config. Empty or shared secrets are refused.
func New(cfg config.SessionConfig, admin config.AdminConfig) (*UserSessions, *AdminSessions, error) {
	if cfg.UserSecret == "" || cfg.AdminSecret == "" {
		return nil, nil, fmt.Errorf("%w: both user and admin secrets are required", ErrMisconfigured)
	}
	if cfg.UserSecret == cfg.AdminSecret {
		return nil, nil, fmt.Errorf("%w: user and admin secrets must differ", ErrMisconfigured)
	}
	users := NewUserSessions(cfg.UserSecret, cfg.UserTTL, cfg.SecureOnly)
	admins := NewAdminSessions(cfg.AdminSecret, cfg.AdminTTL, cfg.SecureOnly, AdminCredentials{
		Username:     admin.Username,
		Password:     admin.Password,
		PasswordHash: admin.PasswordHash,
	})
	return users, admins, nil
}
