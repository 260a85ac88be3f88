package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/skysense/internal/config"
)

// applicationName is reported to PostgreSQL in pg_stat_activity.
const applicationName = "skysense-gateway"

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode credentials to handle special characters
	escapedUser := url.QueryEscape(cfg.User)
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s",
		escapedUser,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
		applicationName,
	)
}
