package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/saiset-co/sai-webserver/types"
)

const pemPrefix = "-----BEGIN"

var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager provides the TLS configuration for a secured listener, either
// from static PEM material or from ACME through autocert.
type CertManager struct {
	logger       types.Logger
	options      types.ServerOptions
	autocertMgr  *autocert.Manager
	tlsConfig    *tls.Config
	mu           sync.RWMutex
	certificates map[string]*tls.Certificate
}

func NewCertManager(options types.ServerOptions, logger types.Logger) (*CertManager, error) {
	cm := &CertManager{
		logger:       logger,
		options:      options,
		certificates: make(map[string]*tls.Certificate),
	}

	var err error
	if options.AutoCert {
		err = cm.initializeAutocert()
	} else {
		err = cm.initializeStatic()
	}
	if err != nil {
		return nil, err
	}

	return cm, nil
}

func (cm *CertManager) Listen(ln net.Listener) (net.Listener, error) {
	if ln == nil {
		return nil, types.Errorf(types.ErrServerStartFailed, "listener is nil")
	}
	return tls.NewListener(ln, cm.tlsConfig), nil
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	return cm.tlsConfig.Clone()
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	statuses := make(map[string]types.CertificateStatus, len(cm.certificates))
	for domain, cert := range cm.certificates {
		statuses[domain] = certificateStatus(domain, cert)
	}

	return statuses
}

func (cm *CertManager) initializeStatic() error {
	certPEM, err := loadPEM(cm.options.Certificate)
	if err != nil {
		return types.Errorf(types.ErrConfigInvalidTLS, "certificate: %v", err)
	}

	keyPEM, err := loadPEM(cm.options.PrivateKey)
	if err != nil {
		return types.Errorf(types.ErrConfigInvalidTLS, "private key: %v", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return types.Errorf(types.ErrConfigInvalidTLS, "key pair: %v", err)
	}

	if err := validateCertificate(cert); err != nil {
		return types.Errorf(types.ErrConfigInvalidTLS, "%v", err)
	}

	cm.certificates["default"] = &cert
	cm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
	}

	return nil
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.options.Domains) == 0 {
		return types.Errorf(types.ErrConfigInvalidTLS, "no domains specified for TLS certificate")
	}

	for _, domain := range cm.options.Domains {
		if strings.TrimSpace(domain) == "" {
			return types.Errorf(types.ErrConfigInvalidTLS, "empty domain name")
		}
	}

	cacheDir := cm.options.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.options.Domains...),
		Email:      cm.options.Email,
	}

	cm.tlsConfig = &tls.Config{
		GetCertificate: cm.trackCertificate(cm.autocertMgr.GetCertificate),
		NextProtos:     []string{"http/1.1", acme.ALPNProto},
		MinVersion:     tls.VersionTLS12,
		CipherSuites:   cipherSuites,
	}

	cm.logger.Info("TLS autocert enabled", zap.Strings("domains", cm.options.Domains))

	return nil
}

func (cm *CertManager) trackCertificate(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := getCert(hello)
		if err != nil {
			cm.logger.Error("Failed to get certificate",
				zap.String("server_name", hello.ServerName),
				zap.Error(err))
			return nil, err
		}

		cm.mu.Lock()
		cm.certificates[hello.ServerName] = cert
		cm.mu.Unlock()

		return cert, nil
	}
}

// loadPEM accepts inline PEM text or a path to a PEM file.
func loadPEM(value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("value is empty")
	}

	if strings.HasPrefix(strings.TrimSpace(value), pemPrefix) {
		return []byte(value), nil
	}

	data, err := os.ReadFile(value)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func validateCertificate(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return fmt.Errorf("certificate chain is empty")
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.Before(x509Cert.NotBefore) {
		return fmt.Errorf("certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return fmt.Errorf("certificate expired")
	}

	return nil
}

func certificateStatus(domain string, cert *tls.Certificate) types.CertificateStatus {
	status := types.CertificateStatus{Domain: domain, Status: "valid"}

	if cert == nil || len(cert.Certificate) == 0 {
		status.Status = "missing"
		return status
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		status.Status = "invalid"
		status.Error = err.Error()
		return status
	}

	status.Issuer = x509Cert.Issuer.String()
	status.Subject = x509Cert.Subject.String()
	status.NotBefore = x509Cert.NotBefore
	status.NotAfter = x509Cert.NotAfter
	status.DaysUntilExpiry = int(time.Until(x509Cert.NotAfter).Hours() / 24)

	if status.DaysUntilExpiry < 0 {
		status.Status = "expired"
	} else if status.DaysUntilExpiry < 30 {
		status.Status = "expiring"
	}

	return status
}
