// Package tlsutil builds crypto/tls configurations for the WebSocket
// listener and the NATS connection from file-based settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/daqstream/errors"
)

// ServerConfig configures TLS on a listening endpoint.
type ServerConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" mapstructure:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" mapstructure:"key_file" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" mapstructure:"min_version" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	// ClientCAFiles enables client certificate verification.
	ClientCAFiles     []string `json:"client_ca_files,omitempty" mapstructure:"client_ca_files" yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" mapstructure:"require_client_cert" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty" mapstructure:"allowed_client_cns" yaml:"allowed_client_cns,omitempty"`
}

// ClientConfig configures TLS on an outgoing connection. The system CA
// pool is always trusted; CAFiles add to it.
type ClientConfig struct {
	Enabled            bool     `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty" mapstructure:"ca_files" yaml:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" mapstructure:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty" mapstructure:"key_file" yaml:"key_file,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify,omitempty"` // test rigs only
	MinVersion         string   `json:"min_version,omitempty" mapstructure:"min_version" yaml:"min_version,omitempty"`
}

// LoadServerConfig returns nil when cfg is disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs := x509.NewCertPool()
	if err := appendPEMFiles(clientCAs, cfg.ClientCAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load client CAs")
	}
	tlsConfig.ClientCAs = clientCAs
	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(chains, allowed)
		}
	}
	return tlsConfig, nil
}

// LoadClientConfig returns nil when cfg is disabled.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	if err := appendPEMFiles(rootCAs, cfg.CAFiles); err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load CAs")
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func appendPEMFiles(pool *x509.CertPool, files []string) error {
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read CA file %s: %w", file, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return fmt.Errorf("%w: no certificates in %s", errors.ErrInvalidData, file)
		}
	}
	return nil
}

func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	cn := chains[0][0].Subject.CommonName
	for _, allowed := range allowedCNs {
		if cn == allowed {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", cn)
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
