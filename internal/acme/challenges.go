package acme

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/dns"

	"github.com/handoff-relay/handoff/internal/config"
)

type challengeSetup func(client *lego.Client, cfg *config.ACMEConfig, log *slog.Logger) error

var challenges = map[string]challengeSetup{
	"http-01":     setupHTTP01,
	"tls-alpn-01": setupTLSALPN01,
	"dns-01":      setupDNS01,
}

func configureChallenge(client *lego.Client, cfg *config.ACMEConfig, log *slog.Logger) error {
	setup, ok := challenges[cfg.Challenge]
	if !ok {
		return fmt.Errorf("unsupported challenge type: %s", cfg.Challenge)
	}
	return setup(client, cfg, log)
}

func setupHTTP01(client *lego.Client, cfg *config.ACMEConfig, log *slog.Logger) error {
	host, port := splitListen(cfg.HTTP01Listen)
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer(host, port)); err != nil {
		return fmt.Errorf("setting HTTP-01 provider: %w", err)
	}
	log.Info("ACME challenge configured", "type", "http-01", "listen", cfg.HTTP01Listen)
	return nil
}

func setupTLSALPN01(client *lego.Client, cfg *config.ACMEConfig, log *slog.Logger) error {
	host, port := splitListen(cfg.TLSALPN01Listen)
	if err := client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer(host, port)); err != nil {
		return fmt.Errorf("setting TLS-ALPN-01 provider: %w", err)
	}
	log.Info("ACME challenge configured", "type", "tls-alpn-01", "listen", cfg.TLSALPN01Listen)
	return nil
}

// setupDNS01 builds the named lego DNS provider. Providers read their
// credentials from the environment, so dns_config entries are exported first.
func setupDNS01(client *lego.Client, cfg *config.ACMEConfig, log *slog.Logger) error {
	if cfg.DNSProvider == "" {
		return fmt.Errorf("DNS provider not specified")
	}

	restore := exportEnv(providerEnv(cfg), log)

	provider, err := dns.NewDNSChallengeProviderByName(cfg.DNSProvider)
	if err != nil {
		restore()
		return fmt.Errorf("creating DNS provider %q: %w", cfg.DNSProvider, err)
	}

	if err := client.Challenge.SetDNS01Provider(provider); err != nil {
		return fmt.Errorf("setting DNS-01 provider: %w", err)
	}

	log.Info("ACME challenge configured", "type", "dns-01", "provider", cfg.DNSProvider)
	return nil
}

// providerEnv maps dns_config onto upper-cased environment variables
func providerEnv(cfg *config.ACMEConfig) map[string]string {
	env := make(map[string]string, len(cfg.DNSConfig)+1)
	for k, v := range cfg.DNSConfig {
		env[strings.ToUpper(k)] = v
	}
	if cfg.DNSPropagationTimeout != "" {
		env["LEGO_DNS_PROPAGATION_TIMEOUT"] = cfg.DNSPropagationTimeout
	}
	return env
}

// exportEnv sets vars and returns a func that puts the previous values back
func exportEnv(vars map[string]string, log *slog.Logger) func() {
	previous := make(map[string]*string, len(vars))
	for k, v := range vars {
		if old, ok := os.LookupEnv(k); ok {
			previous[k] = &old
		} else {
			previous[k] = nil
		}
		if err := os.Setenv(k, v); err != nil {
			log.Warn("Could not set environment variable", "key", k, "error", err)
		}
	}

	return func() {
		for k, old := range previous {
			if old == nil {
				os.Unsetenv(k)
				continue
			}
			os.Setenv(k, *old)
		}
	}
}

// splitListen turns ":80" or "0.0.0.0:80" into lego's iface and port
func splitListen(addr string) (string, string) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", addr
	}
	return addr[:i], addr[i+1:]
}
