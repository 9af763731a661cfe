// Package tlsutil serves the API over HTTPS when TLS is configured.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/config"
)

// NewTLSConfig builds a *tls.Config from the provided configuration.
// If CAFile is set, client certificates presented by callers are verified against it.
func NewTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", cfg.CAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsCfg, nil
}

// Listener returns a function that starts server with TLS when enabled and
// plain HTTP otherwise. The TLS config is built up front so a bad CA file
// fails at startup rather than on first connection.
func Listener(cfg config.TLSConfig, log *zap.Logger) (func(*http.Server) error, error) {
	if !cfg.Enabled {
		return (*http.Server).ListenAndServe, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("TLS enabled but cert_file and key_file are required")
	}

	tlsCfg, err := NewTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	return func(server *http.Server) error {
		server.TLSConfig = tlsCfg
		log.Info("Starting server with TLS",
			zap.String("addr", server.Addr),
			zap.String("cert", cfg.CertFile),
			zap.Bool("client_ca", cfg.CAFile != ""),
		)
		return server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	}, nil
}
