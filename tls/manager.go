package tls

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/saiset-co/sai-fx/types"
)

var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager builds the TLS listener for the HTTP server.
type CertManager struct {
	logger      types.Logger
	config      *types.TLSConfig
	autocertMgr *autocert.Manager
	now         func() time.Time
}

func NewCertManager(logger types.Logger, config *types.TLSConfig) (*CertManager, error) {
	if config == nil || !config.Enabled {
		return nil, types.Errorf(types.ErrConfigInvalidPath, "tls is not enabled")
	}

	cm := &CertManager{logger: logger, config: config, now: time.Now}

	if config.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	}

	return cm, nil
}

func (cm *CertManager) Listen(addr string) (net.Listener, error) {
	tlsConfig, err := cm.TLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsConfig)
}

func (cm *CertManager) TLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
		NextProtos:   []string{"http/1.1"},
	}

	if cm.autocertMgr != nil {
		tlsConfig.GetCertificate = cm.autocertMgr.GetCertificate
		tlsConfig.NextProtos = append(tlsConfig.NextProtos, acme.ALPNProto)
		return tlsConfig, nil
	}

	if cm.config.CertFile == "" || cm.config.KeyFile == "" {
		return nil, types.Errorf(types.ErrConfigNotFound, "tls enabled but cert_file or key_file not specified")
	}

	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return nil, types.WrapError(err, "failed to load certificate files")
	}
	if err := cm.validateCertificate(cert); err != nil {
		return nil, err
	}

	tlsConfig.Certificates = []tls.Certificate{cert}
	return tlsConfig, nil
}

func (cm *CertManager) validateCertificate(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return types.NewErrorf("certificate chain is empty")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(err, "failed to parse certificate")
	}

	now := cm.now()
	if now.After(leaf.NotAfter) {
		return types.NewErrorf("certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}
	if leaf.NotAfter.Sub(now) < 7*24*time.Hour {
		cm.logger.Warn("Certificate expires soon",
			zap.Strings("dns_names", leaf.DNSNames),
			zap.Time("not_after", leaf.NotAfter))
	}
	return nil
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.NewErrorf("no domains specified for TLS certificate")
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	if cm.config.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{DirectoryURL: cm.config.ACMEDirectory}
	}

	return nil
}
