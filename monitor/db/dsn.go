package db

import (
	"fmt"

	"github.com/chainsentry/evm-transfer-monitor/config"
)

// ConnectionParams identifies the Postgres instance backing the store.
type ConnectionParams struct {
	Hostname string
	Name     string
	User     string
	Password string
	Port     int
}

// ConnectionConfig bounds the connection pool.
type ConnectionConfig struct {
	MaxIdle     int
	MaxOpen     int
	MaxLifetime int // seconds
}

// ParamsFromConfig maps the loaded configuration, including any environment
// overrides it absorbed, onto connection parameters.
func ParamsFromConfig(d config.DatabaseConfig) (ConnectionParams, ConnectionConfig) {
	params := ConnectionParams{
		Hostname: d.Host,
		Name:     d.Name,
		User:     d.User,
		Password: d.Password,
		Port:     d.Port,
	}
	pool := ConnectionConfig{
		MaxIdle:     d.MaxIdle,
		MaxOpen:     d.MaxOpen,
		MaxLifetime: d.MaxLifetime,
	}
	return params, pool
}

// ConnectionString renders a keyword/value free DSN. Passwordless and
// anonymous local setups are common in development, so those forms are
// supported too.
func ConnectionString(params ConnectionParams) string {
	if len(params.User) > 0 && len(params.Password) > 0 {
		return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=disable",
			params.User, params.Password, params.Hostname, params.Port, params.Name)
	}
	if len(params.User) > 0 && len(params.Password) == 0 {
		return fmt.Sprintf("postgresql://%s@%s:%d/%s?sslmode=disable",
			params.User, params.Hostname, params.Port, params.Name)
	}
	return fmt.Sprintf("postgresql://%s:%d/%s?sslmode=disable", params.Hostname, params.Port, params.Name)
}
