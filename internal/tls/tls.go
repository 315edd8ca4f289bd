package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/profilr/internal/config"
)

// File names used inside a managed certificate directory.
const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

// parseVersion maps a configured TLS version name onto the crypto/tls constant.
func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// versionBounds resolves the configured min and max TLS versions. Both default
// to 1.3.
func versionBounds(c config.TLS) (uint16, uint16) {
	minVer := uint16(tls.VersionTLS13)
	maxVer := uint16(tls.VersionTLS13)
	if v, ok := parseVersion(c.MinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(c.MaxVersion); ok {
		maxVer = v
	}
	return minVer, maxVer
}

// safeReadFile reads p only when it resolves inside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader returns a GetCertificate func that re-reads the pair on every
// handshake, so a rotated certificate is picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

// Setup builds the server tls.Config described by c. It returns (nil, nil)
// when TLS is disabled. An explicit cert/key pair wins over a managed
// directory; with a directory and AutoGenerate set, a missing pair is
// generated self-signed on first use.
func Setup(c config.TLS) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	minVer, maxVer := versionBounds(c)

	if c.CertFile != "" && c.KeyFile != "" {
		return newConfig(c.CertFile, c.KeyFile, minVer, maxVer), nil
	}

	if c.Dir != "" {
		certPath := filepath.Join(c.Dir, certName)
		keyPath := filepath.Join(c.Dir, keyName)
		if c.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generate(c, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("tls enabled but no certificate configuration found")
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 versions below 1.3 are an explicit config choice
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// generate mints a self-signed pair in c.Dir alongside a CA copy.
func generate(c config.TLS, certPath, keyPath string) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create tls directory: %w", err)
	}

	commonName := c.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	dnsNames := []string{"localhost"}
	if commonName != "localhost" {
		dnsNames = append(dnsNames, commonName)
	}

	validDays := c.ValidDays
	if validDays <= 0 {
		validDays = 365
	}

	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: "profilr",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     certPath,
		KeyPath:      keyPath,
		CACertPath:   filepath.Join(c.Dir, caCertName),
	})
}
