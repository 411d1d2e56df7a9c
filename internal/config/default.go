package config

// DefaultConfigYAML is the default configuration template
const DefaultConfigYAML = `domain: "handoff.example.com"
email: "admin@example.com"
cert_dir: "./certs"

acme:
  enabled: false
  challenge: "http-01"
  # ca_url: "https://acme-v02.api.letsencrypt.org/directory"
  # renew_before: 720h
  # For DNS challenge:
  # challenge: "dns-01"
  # dns_provider: "cloudflare"
  # dns_config:
  #   CF_API_TOKEN: "your-token"

# TURN relays the remote-desktop WebRTC stream when peers cannot connect directly
turn:
  enabled: false
  realm: "handoff.example.com"
  public_ip: "127.0.0.1"
  ports:
    udp: 3478
    tcp: 3478
    tls: 5349
  relay_port_range:
    min: 49152
    max: 65535
  auth:
    mode: "rest"
    secret: "change-this-secret-in-production"
    ttl_seconds: 86400

relay:
  session_ttl: 1h
  owner_grace_period: 30s
  sweep_interval: 60s
  read_timeout: 60s
  ping_interval: 30s
  write_timeout: 10s
  send_buffer: 64
  max_message_size: 16777216

api:
  port: 9000  # REST API, metrics and the WebSocket relay share this port
  cors_origins:
    - "http://localhost:3000"

storage:
  enabled: true
  path: "data/history.db"
  retention: 720h

logging:
  level: "info"
  format: "text"
`
