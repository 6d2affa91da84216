package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/errors"
)

// generateTestCert creates a self-signed certificate valid for localhost.
func generateTestCert(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"Test Rig"},
			CommonName:   cn,
		},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// writePair writes a generated certificate and key under dir.
func writePair(t *testing.T, dir, name, cn string) (certFile, keyFile string) {
	t.Helper()
	certPEM, keyPEM := generateTestCert(t, cn)
	certFile = filepath.Join(dir, name+"-cert.pem")
	keyFile = filepath.Join(dir, name+"-key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile
}

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writePair(t, dir, "server", "localhost")

	cfg, err := LoadServerConfig(ServerConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	_, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: filepath.Join(dir, "missing.pem"), KeyFile: keyFile})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoadServerConfig_ClientVerification(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writePair(t, dir, "server", "localhost")
	caFile, _ := writePair(t, dir, "client", "rig-01")

	cfg, err := LoadServerConfig(ServerConfig{
		Enabled:       true,
		CertFile:      certFile,
		KeyFile:       keyFile,
		ClientCAFiles: []string{caFile},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
	assert.Nil(t, cfg.VerifyPeerCertificate)

	cfg, err = LoadServerConfig(ServerConfig{
		Enabled:           true,
		CertFile:          certFile,
		KeyFile:           keyFile,
		ClientCAFiles:     []string{caFile},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"rig-01"},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.VerifyPeerCertificate)

	notPEM := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a certificate"), 0o644))
	_, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{notPEM}})
	assert.Error(t, err)
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()
	caFile, _ := writePair(t, dir, "ca", "rig-ca")
	certFile, keyFile := writePair(t, dir, "client", "rig-01")

	cfg, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{caFile}})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	cfg, err = LoadClientConfig(ClientConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CertFile: certFile})
	assert.Error(t, err)

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{filepath.Join(dir, "missing.pem")}})
	assert.Error(t, err)
}

func TestVerifyAllowedClientCN(t *testing.T) {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "rig-01"}}

	assert.NoError(t, verifyAllowedClientCN([][]*x509.Certificate{{cert}}, []string{"rig-00", "rig-01"}))
	assert.Error(t, verifyAllowedClientCN([][]*x509.Certificate{{cert}}, []string{"rig-02"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"rig-01"}))
}

func TestMutualTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writePair(t, dir, "server", "localhost")
	clientCert, clientKey := writePair(t, dir, "client", "rig-01")
	strangerCert, strangerKey := writePair(t, dir, "stranger", "rig-99")

	serverTLS, err := LoadServerConfig(ServerConfig{
		Enabled:           true,
		CertFile:          serverCert,
		KeyFile:           serverKey,
		ClientCAFiles:     []string{clientCert, strangerCert},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"rig-01"},
	})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.TLS.PeerCertificates[0].Subject.CommonName)
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	get := func(certFile, keyFile string) (string, error) {
		clientTLS, err := LoadClientConfig(ClientConfig{
			Enabled:  true,
			CAFiles:  []string{serverCert},
			CertFile: certFile,
			KeyFile:  keyFile,
		})
		require.NoError(t, err)

		client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}, Timeout: 5 * time.Second}
		resp, err := client.Get(srv.URL)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return string(body), err
	}

	body, err := get(clientCert, clientKey)
	require.NoError(t, err)
	assert.Equal(t, "rig-01", body)

	_, err = get(strangerCert, strangerKey)
	assert.Error(t, err)
}
