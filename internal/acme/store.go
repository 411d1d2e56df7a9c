package acme

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/registration"
)

// errNoCertificate means nothing usable is on disk yet
var errNoCertificate = errors.New("no stored certificate")

// Account implements registration.User for lego
type Account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

func (a *Account) GetEmail() string                        { return a.Email }
func (a *Account) GetRegistration() *registration.Resource { return a.Registration }
func (a *Account) GetPrivateKey() crypto.PrivateKey        { return a.key }

// certStore keeps the ACME account and the issued certificate under one directory
type certStore struct {
	dir    string
	domain string
}

func newCertStore(dir, domain string) (*certStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cert directory: %w", err)
	}
	return &certStore{dir: dir, domain: domain}, nil
}

func (s *certStore) accountPath() string { return filepath.Join(s.dir, "account.json") }
func (s *certStore) accountKeyPath() string { return filepath.Join(s.dir, "account.key") }
func (s *certStore) certPath() string { return filepath.Join(s.dir, s.domain+".crt") }
func (s *certStore) keyPath() string { return filepath.Join(s.dir, s.domain+".key") }

// loadAccount returns the saved account, or nil if none was saved
func (s *certStore) loadAccount() (*Account, error) {
	data, err := os.ReadFile(s.accountPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}

	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}

	keyPEM, err := os.ReadFile(s.accountKeyPath())
	if err != nil {
		return nil, fmt.Errorf("reading account key: %w", err)
	}
	acct.key, err = certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing account key: %w", err)
	}
	return &acct, nil
}

func (s *certStore) saveAccount(acct *Account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding account: %w", err)
	}
	if err := os.WriteFile(s.accountPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing account: %w", err)
	}
	if err := os.WriteFile(s.accountKeyPath(), certcrypto.PEMEncode(acct.key), 0o600); err != nil {
		return fmt.Errorf("writing account key: %w", err)
	}
	return nil
}

// loadCertificate reads the stored key pair with Leaf populated
func (s *certStore) loadCertificate() (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(s.certPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoCertificate
	}
	if err != nil {
		return nil, fmt.Errorf("reading certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(s.keyPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoCertificate
	}
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return parseKeyPair(certPEM, keyPEM)
}

func (s *certStore) saveCertificate(certPEM, keyPEM []byte) error {
	if err := os.WriteFile(s.certPath(), certPEM, 0o644); err != nil {
		return fmt.Errorf("writing certificate: %w", err)
	}
	if err := os.WriteFile(s.keyPath(), keyPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

func parseKeyPair(certPEM, keyPEM []byte) (*tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("loading certificate pair: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parsing leaf: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}
