package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented template written by `waypost init`.
const sampleConfig = `# Waypost Configuration File
#
# Every value shown here is the default; delete anything you do not
# want to override. All options can also be set through environment
# variables using the WAYPOST_ prefix, e.g. WAYPOST_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text, json
  format: text
  # Destination: stdout, stderr, or a file path
  output: stdout

# Maximum time to wait for graceful shutdown
shutdown_timeout: 30s

# TLS control port where endpoints register device IDs and exchange
# connection offers
signal:
  port: 45555
  cert_file: cert/example.com.crt
  key_file: cert/example.com.key
  # Cap on concurrent control sessions; 0 means unlimited
  max_connections: 0
  handshake_timeout: 10s
  call_timeout: 10s

# Plain TCP port where paired endpoints exchange payload bytes.
# Legacy override: TCP_LISTEN_ADDR=host:port
relay:
  port: 45556
  max_connections: 0
  handshake_timeout: 10s
  # How long a lone endpoint may wait for its partner
  wait_ttl: 120s

# Statistics HTTP server (/api/stat, /healthz, /metrics).
# Legacy override: API_LISTEN_PORT=port
api:
  enabled: true
  port: 45557

# Device ID store
directory:
  # Backend: badger (persistent), memory (testing only)
  backend: badger
  # On-disk location for the badger backend; defaults to
  # $XDG_DATA_HOME/waypost/directory when omitted
  # path: /var/lib/waypost/directory

# Prometheus metrics, exposed on the API server at /metrics
metrics:
  enabled: false
`

// InitConfig writes the sample configuration to the default location.
// Returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to the given path.
// Refuses to overwrite an existing file unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
