package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/peakfeed/cache-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager terminates TLS either from static cert files or via
// Let's Encrypt autocert, and watches certificate expiry while running.
type CertManager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.TLSConfig
	autocertMgr     *autocert.Manager
	stopCh          chan struct{}
	mu              sync.RWMutex
	statuses        map[string]types.CertificateStatus
	state           atomic.Value
	renewalInterval time.Duration
}

func NewCertManager(ctx context.Context, logger types.Logger, config types.ConfigManager) (types.TLSManager, error) {
	tlsConfig := config.GetConfig().Server.TLS

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          tlsConfig,
		stopCh:          make(chan struct{}),
		statuses:        make(map[string]types.CertificateStatus),
		renewalInterval: 12 * time.Hour,
	}

	cm.state.Store(StateStopped)

	if tlsConfig.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	}

	return cm, nil
}

func (cm *CertManager) Serve(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	if cm.config.AutoCert {
		tlsConfig := cm.GetTLSConfig()
		if tlsConfig == nil {
			return nil, types.NewErrorf("autocert manager is not initialized")
		}
		return tls.Listen("tcp", addr, tlsConfig)
	}

	if cm.config.CertFile == "" || cm.config.KeyFile == "" {
		return nil, types.NewErrorf("tls enabled but cert_file or key_file not specified")
	}

	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return nil, types.WrapError(err, "failed to load certificate files")
	}

	if err := cm.validateCertificate(cert); err != nil {
		return nil, types.WrapError(err, "certificate validation failed")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: defaultCipherSuites,
		Certificates: []tls.Certificate{cert},
	}

	return tls.Listen("tcp", addr, tlsConfig)
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	if cm.autocertMgr == nil {
		return nil
	}

	return &tls.Config{
		GetCertificate: cm.autocertMgr.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CipherSuites:   defaultCipherSuites,
	}
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if cm.getState() == StateStarting {
			cm.setState(StateRunning)
		}
	}()

	if cm.config.AutoCert {
		go cm.renewalMonitor()
	}

	cm.logger.Info("TLS certificate manager started",
		zap.Strings("domains", cm.config.Domains),
		zap.Bool("auto_cert", cm.config.AutoCert))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cm.setState(StateStopped)
		cm.cancel()
	}()

	close(cm.stopCh)

	cm.logger.Info("TLS certificate manager stopped gracefully")
	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func (cm *CertManager) validateCertificate(cert tls.Certificate) error {
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(err, "failed to parse certificate")
	}

	now := time.Now()
	if now.Before(x509Cert.NotBefore) {
		return types.NewErrorf("certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return types.NewErrorf("certificate expired")
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
		cm.autocertMgr.Client = &acme.Client{
			DirectoryURL: cm.config.ACMEDirectory,
		}
	}

	return nil
}

func (cm *CertManager) renewalMonitor() {
	ticker := time.NewTicker(cm.renewalInterval)
	defer ticker.Stop()

	cm.refreshCertificateStatus()

	for {
		select {
		case <-ticker.C:
			cm.refreshCertificateStatus()
		case <-cm.stopCh:
			return
		case <-cm.ctx.Done():
			return
		}
	}
}

// refreshCertificateStatus probes each configured domain through the
// autocert manager. Fetching a certificate close to expiry also triggers
// autocert's own renewal path.
func (cm *CertManager) refreshCertificateStatus() {
	for _, domain := range cm.config.Domains {
		status := cm.probeDomain(domain)

		cm.mu.Lock()
		cm.statuses[domain] = status
		cm.mu.Unlock()

		if status.Error != "" {
			cm.logger.Warn("certificate probe failed",
				zap.String("domain", domain),
				zap.String("error", status.Error))
			continue
		}

		if status.DaysUntilExpiry <= 14 {
			cm.logger.Warn("certificate approaching expiry",
				zap.String("domain", domain),
				zap.Int("days_until_expiry", status.DaysUntilExpiry))
		}
	}
}

func (cm *CertManager) probeDomain(domain string) types.CertificateStatus {
	status := types.CertificateStatus{
		Domain: domain,
		Status: "unknown",
	}

	if cm.autocertMgr == nil {
		status.Error = "autocert manager not initialized"
		return status
	}

	hello := &tls.ClientHelloInfo{ServerName: domain}
	cert, err := cm.autocertMgr.GetCertificate(hello)
	if err != nil {
		status.Status = "error"
		status.Error = err.Error()
		return status
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		status.Status = "error"
		status.Error = err.Error()
		return status
	}

	status.Status = "valid"
	status.Issuer = x509Cert.Issuer.CommonName
	status.Subject = x509Cert.Subject.CommonName
	status.NotBefore = x509Cert.NotBefore
	status.NotAfter = x509Cert.NotAfter
	status.DaysUntilExpiry = int(time.Until(x509Cert.NotAfter).Hours() / 24)

	return status
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make(map[string]types.CertificateStatus, len(cm.statuses))
	for domain, status := range cm.statuses {
		out[domain] = status
	}
	return out
}
