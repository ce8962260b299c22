// Package security holds TLS settings for the gateway connection and the
// metrics endpoint.
package security

// Config holds process-wide security configuration
type Config struct {
	TLS TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// TLSConfig groups the client side (wss:// gateway) and the server side
// (metrics listener).
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty" yaml:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty" yaml:"client,omitempty"`
}

// ServerTLSConfig holds TLS configuration for the metrics HTTP listener
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
}

// ClientMTLSConfig supplies a client certificate to gateways that require one
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// ClientTLSConfig holds TLS configuration for wss:// gateway endpoints.
// The system CA bundle is always trusted; CAFiles are additional roots.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
	ServerName         string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}
