package turn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/handoff-relay/handoff/internal/config"
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// maxCredentialLifetime caps how far in the future a REST credential may expire
const maxCredentialLifetime = 48 * time.Hour

// Credentials are coturn-compatible time-limited TURN credentials
type Credentials struct {
	Username string
	Password string
	TTL      int
	Expires  time.Time
}

// ICEServer is one entry of an RTCPeerConnection iceServers list
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// GenerateCredentials derives credentials for deviceID valid for ttl seconds from now
func GenerateCredentials(secret, deviceID string, ttl int, now time.Time) Credentials {
	expires := now.Add(time.Duration(ttl) * time.Second)
	username := fmt.Sprintf("%d:%s", expires.Unix(), deviceID)
	return Credentials{
		Username: username,
		Password: Password(secret, username),
		TTL:      ttl,
		Expires:  time.Unix(expires.Unix(), 0).UTC(),
	}
}

// Password returns base64(HMAC-SHA256(secret, username))
func Password(secret, username string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseUsername splits a REST username into its expiry and device id
func ParseUsername(username string) (time.Time, string, error) {
	expiryStr, deviceID, ok := strings.Cut(username, ":")
	if !ok || deviceID == "" {
		return time.Time{}, "", fmt.Errorf("invalid username format, expected expiry:deviceID")
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil || expiry <= 0 {
		return time.Time{}, "", fmt.Errorf("invalid expiry timestamp %q", expiryStr)
	}
	return time.Unix(expiry, 0), deviceID, nil
}

// Issuer hands out credentials and ICE server lists to devices. It is shared
// by the REST API and the relay's turn_request handler.
type Issuer struct {
	host  string
	ports config.TurnPorts

	mu     sync.RWMutex
	secret string
	ttl    int

	now func() time.Time
}

// NewIssuer creates an issuer for the TURN server described by cfg.
// host defaults to the configured public IP.
func NewIssuer(cfg *config.TurnConfig, host string) *Issuer {
	if host == "" {
		host = cfg.PublicIP
	}
	return &Issuer{
		host:   host,
		ports:  cfg.Ports,
		secret: cfg.Auth.Secret,
		ttl:    cfg.Auth.TTLSeconds,
		now:    time.Now,
	}
}

// UpdateSecret switches new credentials to a rotated secret. ttl <= 0
// keeps the current TTL.
func (i *Issuer) UpdateSecret(secret string, ttl int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.secret = secret
	if ttl > 0 {
		i.ttl = ttl
	}
}

// Issue generates credentials for deviceID. ttl <= 0 uses the configured TTL.
func (i *Issuer) Issue(deviceID string, ttl int) Credentials {
	i.mu.RLock()
	secret := i.secret
	if ttl <= 0 {
		ttl = i.ttl
	}
	i.mu.RUnlock()

	return GenerateCredentials(secret, deviceID, ttl, i.now())
}

// URLs lists the STUN and TURN endpoints
func (i *Issuer) URLs() []string {
	var urls []string
	if i.ports.UDP > 0 {
		urls = append(urls,
			fmt.Sprintf("stun:%s:%d", i.host, i.ports.UDP),
			fmt.Sprintf("turn:%s:%d?transport=udp", i.host, i.ports.UDP),
		)
	}
	if i.ports.TCP > 0 {
		urls = append(urls, fmt.Sprintf("turn:%s:%d?transport=tcp", i.host, i.ports.TCP))
	}
	if i.ports.TLS > 0 {
		urls = append(urls, fmt.Sprintf("turns:%s:%d?transport=tcp", i.host, i.ports.TLS))
	}
	return urls
}

// ICEServers returns a STUN entry plus an authenticated TURN entry for deviceID
func (i *Issuer) ICEServers(deviceID string) ([]ICEServer, Credentials) {
	creds := i.Issue(deviceID, 0)

	var stun, relay []string
	for _, u := range i.URLs() {
		if strings.HasPrefix(u, "stun:") {
			stun = append(stun, u)
		} else {
			relay = append(relay, u)
		}
	}

	var servers []ICEServer
	if len(stun) > 0 {
		servers = append(servers, ICEServer{URLs: stun})
	}
	if len(relay) > 0 {
		servers = append(servers, ICEServer{URLs: relay, Username: creds.Username, Credential: creds.Password})
	}
	return servers, creds
}

// TurnCredentials issues credentials in the relay wire format
func (i *Issuer) TurnCredentials(deviceID string) models.TurnCredentials {
	creds := i.Issue(deviceID, 0)
	return models.TurnCredentials{
		Username: creds.Username,
		Password: creds.Password,
		TTL:      creds.TTL,
		Expires:  creds.Expires.Format(time.RFC3339),
		URLs:     i.URLs(),
	}
}
