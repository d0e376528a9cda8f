package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lineage-io/catalog/internal/config"
)

// Environment variables read by LoadServerConfig.
const (
	envPort            = "CATALOG_SERVER_PORT"
	envHost            = "CATALOG_SERVER_HOST"
	envReadTimeout     = "CATALOG_SERVER_READ_TIMEOUT"
	envWriteTimeout    = "CATALOG_SERVER_WRITE_TIMEOUT"
	envShutdownTimeout = "CATALOG_SERVER_SHUTDOWN_TIMEOUT"
	envLogLevel        = "CATALOG_SERVER_LOG_LEVEL"
	envMaxRequestSize  = "CATALOG_SERVER_MAX_REQUEST_SIZE"
	envCORSOrigins     = "CATALOG_CORS_ALLOWED_ORIGINS"
	envCORSMethods     = "CATALOG_CORS_ALLOWED_METHODS"
	envCORSHeaders     = "CATALOG_CORS_ALLOWED_HEADERS"
	envCORSMaxAge      = "CATALOG_CORS_MAX_AGE"
	envAPIKeyHash      = "CATALOG_API_KEY_HASH"
)

const (
	defaultPort           = 8080
	maxPort               = 65535
	defaultHost           = "0.0.0.0"
	defaultTimeout        = 30 * time.Second
	defaultLogLevel       = slog.LevelInfo
	defaultMaxRequestSize = int64(1 << 20)
	defaultCORSOrigins    = "*"
	defaultCORSMethods    = "GET,POST,PUT,OPTIONS"
	defaultCORSHeaders    = "Content-Type,Authorization,X-Correlation-ID,X-Api-Key"
	defaultCORSMaxAge     = 86400
)

// Server configuration errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidMaxRequestSize  = errors.New("max request size must be positive")
)

type (
	// ServerConfig configures the catalog HTTP listener. ShutdownTimeout also bounds draining
	// the lineage queue on exit.
	ServerConfig struct {
		Port            int
		Host            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		LogLevel        slog.Level
		MaxRequestSize  int64
		CORS            CORSConfig

		// APIKeyHash is the bcrypt hash of the API key. Empty disables authentication.
		APIKeyHash string
	}

	// CORSConfig implements middleware.CORSConfigProvider.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig reads CATALOG_SERVER_*, CATALOG_CORS_* and CATALOG_API_KEY_HASH.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt(envPort, defaultPort),
		Host:            config.GetEnvStr(envHost, defaultHost),
		ReadTimeout:     config.GetEnvDuration(envReadTimeout, defaultTimeout),
		WriteTimeout:    config.GetEnvDuration(envWriteTimeout, defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration(envShutdownTimeout, defaultTimeout),
		LogLevel:        config.GetEnvLogLevel(envLogLevel, defaultLogLevel),
		MaxRequestSize:  config.GetEnvInt64(envMaxRequestSize, defaultMaxRequestSize),
		CORS: CORSConfig{
			AllowedOrigins: config.ParseCommaSeparatedList(config.GetEnvStr(envCORSOrigins, defaultCORSOrigins)),
			AllowedMethods: config.ParseCommaSeparatedList(config.GetEnvStr(envCORSMethods, defaultCORSMethods)),
			AllowedHeaders: config.ParseCommaSeparatedList(config.GetEnvStr(envCORSHeaders, defaultCORSHeaders)),
			MaxAge:         config.GetEnvInt(envCORSMaxAge, defaultCORSMaxAge),
		},
		APIKeyHash: config.GetEnvStr(envAPIKeyHash, ""),
	}
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthEnabled reports whether /api/v1 requests must carry the API key.
func (c *ServerConfig) AuthEnabled() bool {
	return c.APIKeyHash != ""
}

// Validate checks ports, timeouts and the request size limit. The API key hash is checked
// by NewServer when it builds the authenticator.
func (c *ServerConfig) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > maxPort:
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	case c.Host == "":
		return ErrEmptyHost
	case c.ReadTimeout <= 0:
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	case c.MaxRequestSize <= 0:
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	return nil
}

func (c *CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }
func (c *CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }
func (c *CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }
func (c *CORSConfig) GetMaxAge() int              { return c.MaxAge }
