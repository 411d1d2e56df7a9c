package turn

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/turn/v4"

	"github.com/handoff-relay/handoff/internal/config"
)

// Server is the TURN/STUN server devices fall back to when a direct
// WebRTC path for remote access cannot be established
type Server struct {
	config      *config.TurnConfig
	logger      *slog.Logger
	authHandler *AuthHandler
	turnServer  *turn.Server
	tlsConfig   *tls.Config
}

// New creates a new TURN server instance
func New(cfg *config.TurnConfig, tlsConfig *tls.Config, logger *slog.Logger) (*Server, error) {
	staticUsers := make(map[string]string, len(cfg.Auth.StaticUsers))
	for _, user := range cfg.Auth.StaticUsers {
		staticUsers[user.Username] = user.Password
	}

	authHandler := NewAuthHandler(cfg.Auth.Mode, cfg.Auth.Secret, staticUsers, logger.With("component", "turn-auth"))

	return &Server{
		config:      cfg,
		logger:      logger.With("component", "turn"),
		authHandler: authHandler,
		tlsConfig:   tlsConfig,
	}, nil
}

func (s *Server) relayIP() net.IP {
	if ip := net.ParseIP(s.config.PublicIP); ip != nil {
		return ip
	}
	return net.ParseIP("127.0.0.1")
}

func (s *Server) relayGenerator() turn.RelayAddressGenerator {
	relayIP := s.relayIP()

	if s.config.RelayPortRange.Min > 0 && s.config.RelayPortRange.Max > 0 {
		s.logger.Info("Using port range relay generator",
			"min", s.config.RelayPortRange.Min,
			"max", s.config.RelayPortRange.Max,
		)
		return &turn.RelayAddressGeneratorPortRange{
			RelayAddress: relayIP,
			MinPort:      uint16(s.config.RelayPortRange.Min),
			MaxPort:      uint16(s.config.RelayPortRange.Max),
			Address:      relayIP.String(),
		}
	}

	s.logger.Info("Using static relay generator")
	return &turn.RelayAddressGeneratorStatic{
		RelayAddress: relayIP,
		Address:      relayIP.String(),
	}
}

// Start opens the configured listeners and starts serving
func (s *Server) Start() error {
	generator := s.relayGenerator()

	var packetConnConfigs []turn.PacketConnConfig
	var listenerConfigs []turn.ListenerConfig

	if s.config.Ports.UDP > 0 {
		addr := fmt.Sprintf("%s:%d", s.config.PublicIP, s.config.Ports.UDP)
		for _, network := range []string{"udp4", "udp6"} {
			conn, err := net.ListenPacket(network, addr)
			if err != nil {
				// IPv4 is required, IPv6 is best effort
				if network == "udp4" {
					return fmt.Errorf("creating UDP4 listener: %w", err)
				}
				s.logger.Debug("IPv6 UDP not available", "error", err)
				continue
			}
			packetConnConfigs = append(packetConnConfigs, turn.PacketConnConfig{
				PacketConn:            conn,
				RelayAddressGenerator: generator,
			})
			s.logger.Info("TURN listener started", "network", network, "addr", addr)
		}
	}

	if s.config.Ports.TCP > 0 {
		addr := fmt.Sprintf("%s:%d", s.config.PublicIP, s.config.Ports.TCP)
		for _, network := range []string{"tcp4", "tcp6"} {
			ln, err := net.Listen(network, addr)
			if err != nil {
				if network == "tcp4" {
					return fmt.Errorf("creating TCP4 listener: %w", err)
				}
				s.logger.Debug("IPv6 TCP not available", "error", err)
				continue
			}
			listenerConfigs = append(listenerConfigs, turn.ListenerConfig{
				Listener:              ln,
				RelayAddressGenerator: generator,
			})
			s.logger.Info("TURN listener started", "network", network, "addr", addr)
		}
	}

	if s.config.Ports.TLS > 0 && s.tlsConfig != nil {
		addr := fmt.Sprintf("%s:%d", s.config.PublicIP, s.config.Ports.TLS)
		ln, err := tls.Listen("tcp4", addr, s.tlsConfig)
		if err != nil {
			return fmt.Errorf("creating TLS listener: %w", err)
		}
		listenerConfigs = append(listenerConfigs, turn.ListenerConfig{
			Listener: ln,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: s.relayIP(),
				Address:      "0.0.0.0",
			},
		})
		s.logger.Info("TURNS listener started", "addr", addr)
	}

	turnServer, err := turn.NewServer(turn.ServerConfig{
		Realm:             s.config.Realm,
		AuthHandler:       s.authHandler.AuthenticateRequest,
		PacketConnConfigs: packetConnConfigs,
		ListenerConfigs:   listenerConfigs,
	})
	if err != nil {
		return fmt.Errorf("creating TURN server: %w", err)
	}

	s.turnServer = turnServer
	s.logger.Info("TURN server started", "realm", s.config.Realm)
	return nil
}

// Stop closes every listener
func (s *Server) Stop() error {
	s.logger.Info("Stopping TURN server")

	if s.turnServer != nil {
		if err := s.turnServer.Close(); err != nil {
			s.logger.Error("Error closing TURN server", "error", err)
			return err
		}
	}

	s.logger.Info("TURN server stopped")
	return nil
}

// UpdateSecret rotates the REST auth secret
func (s *Server) UpdateSecret(secret string) {
	s.authHandler.UpdateSecret(secret)
}
