package acme

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/handoff-relay/handoff/internal/config"
)

// renewCheckInterval is how often the stored certificate's expiry is checked
const renewCheckInterval = 12 * time.Hour

// Manager obtains the API server's certificate and renews it before expiry.
// A nil *Manager is valid and means ACME is disabled.
type Manager struct {
	cfg         *config.ACMEConfig
	domain      string
	email       string
	renewBefore time.Duration

	store  *certStore
	client *lego.Client
	clock  clock.Clock
	logger *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	cancel context.CancelFunc
	done   chan struct{}
}

// New registers (or reloads) the ACME account and makes sure a valid
// certificate is available before returning. Returns nil, nil when disabled.
func New(acmeCfg *config.ACMEConfig, domain, email, certDir string, log *slog.Logger) (*Manager, error) {
	if !acmeCfg.Enabled {
		log.Info("ACME disabled, skipping certificate management")
		return nil, nil
	}

	m, err := newManager(acmeCfg, domain, email, certDir, clock.New(), log)
	if err != nil {
		return nil, err
	}

	acct, err := m.account()
	if err != nil {
		return nil, fmt.Errorf("setting up ACME account: %w", err)
	}

	m.client, err = newClient(acct, acmeCfg.CAURL)
	if err != nil {
		return nil, fmt.Errorf("creating ACME client: %w", err)
	}
	if acct.Registration == nil {
		if err := m.register(acct); err != nil {
			return nil, err
		}
	}

	if err := configureChallenge(m.client, acmeCfg, m.logger); err != nil {
		return nil, fmt.Errorf("setting up ACME challenge: %w", err)
	}

	if err := m.ensureCertificate(); err != nil {
		return nil, fmt.Errorf("obtaining certificate: %w", err)
	}

	m.logger.Info("ACME manager initialized", "domain", domain, "challenge", acmeCfg.Challenge)
	return m, nil
}

func newManager(acmeCfg *config.ACMEConfig, domain, email, certDir string, clk clock.Clock, log *slog.Logger) (*Manager, error) {
	store, err := newCertStore(certDir, domain)
	if err != nil {
		return nil, err
	}

	renewBefore := acmeCfg.RenewBefore
	if renewBefore <= 0 {
		renewBefore = 30 * 24 * time.Hour
	}

	return &Manager{
		cfg:         acmeCfg,
		domain:      domain,
		email:       email,
		renewBefore: renewBefore,
		store:       store,
		clock:       clk,
		logger:      log.With("component", "acme"),
	}, nil
}

func newClient(acct *Account, caURL string) (*lego.Client, error) {
	legoCfg := lego.NewConfig(acct)
	legoCfg.CADirURL = caURL
	legoCfg.Certificate.KeyType = certcrypto.EC256
	return lego.NewClient(legoCfg)
}

// account loads the saved account or generates a fresh unregistered one
func (m *Manager) account() (*Account, error) {
	acct, err := m.store.loadAccount()
	if err != nil {
		return nil, err
	}
	if acct != nil {
		m.logger.Info("Loaded ACME account", "email", acct.Email)
		return acct, nil
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}
	return &Account{Email: m.email, key: key}, nil
}

func (m *Manager) register(acct *Account) error {
	m.logger.Info("Registering ACME account", "email", acct.Email)

	reg, err := m.client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return fmt.Errorf("registering with ACME: %w", err)
	}
	acct.Registration = reg

	return m.store.saveAccount(acct)
}

// Start runs the renewal loop until Stop
func (m *Manager) Start() {
	if m == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	ticker := m.clock.Ticker(renewCheckInterval)
	go m.renewalLoop(ctx, ticker)
	m.logger.Info("Certificate renewal loop started", "renew_before", m.renewBefore)
}

// Stop ends the renewal loop
func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}

	m.logger.Info("Stopping ACME manager")
	m.cancel()
	<-m.done
}

// GetTLSConfig returns a TLS config that always serves the newest certificate
func (m *Manager) GetTLSConfig() *tls.Config {
	if m == nil {
		return nil
	}

	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: m.getCertificate,
	}
}

func (m *Manager) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cert == nil {
		return nil, errors.New("no certificate available")
	}
	return m.cert, nil
}

func (m *Manager) setCertificate(cert *tls.Certificate) {
	m.mu.Lock()
	m.cert = cert
	m.mu.Unlock()
}

// needsRenewal reports whether cert expires within the renewal window
func (m *Manager) needsRenewal(cert *tls.Certificate) bool {
	if cert == nil || cert.Leaf == nil {
		return true
	}
	return cert.Leaf.NotAfter.Sub(m.clock.Now()) < m.renewBefore
}

// ensureCertificate serves the stored certificate when it is still fresh,
// otherwise requests a new one.
func (m *Manager) ensureCertificate() error {
	cert, err := m.store.loadCertificate()
	switch {
	case errors.Is(err, errNoCertificate):
	case err != nil:
		m.logger.Warn("Ignoring unreadable stored certificate", "error", err)
	case !m.needsRenewal(cert):
		m.setCertificate(cert)
		m.logger.Info("Using stored certificate", "expires", cert.Leaf.NotAfter)
		return nil
	}

	return m.obtain()
}

func (m *Manager) obtain() error {
	m.logger.Info("Requesting certificate", "domain", m.domain)

	res, err := m.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{m.domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("obtaining certificate: %w", err)
	}

	cert, err := parseKeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return err
	}
	if err := m.store.saveCertificate(res.Certificate, res.PrivateKey); err != nil {
		return err
	}

	m.setCertificate(cert)
	m.logger.Info("Certificate obtained", "expires", cert.Leaf.NotAfter)
	return nil
}

func (m *Manager) renewalLoop(ctx context.Context, ticker *clock.Ticker) {
	defer close(m.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			due := m.needsRenewal(m.cert)
			m.mu.RUnlock()

			if !due {
				continue
			}
			if err := m.obtain(); err != nil {
				m.logger.Error("Certificate renewal failed", "error", err)
			}
		}
	}
}
