// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the control plane server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the public HTTP endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty selects the file backing.
//   - StateFile: JSON state file path used when DatabaseDSN is empty.
//   - SecretKey: HMAC secret for signing runtime JWTs (HS256). Do not use
//     test defaults in prod.
//   - ReconcileInterval: period of the background sweep; zero disables it.
//   - S3RootUser / S3RootPassword: credentials for the S3-compatible
//     backend. Empty S3Bucket selects the in-memory object store.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings.
type Config struct {
	EndpointAddrHTTP  string
	DatabaseDSN       string
	StateFile         string
	SecretKey         string
	ReconcileInterval time.Duration
	S3RootUser        string
	S3RootPassword    string
	S3Bucket          string
	S3Region          string
	S3BaseEndpoint    string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = ""
	c.StateFile = "devplane-state.json"
	c.SecretKey = "secretKey"
	c.ReconcileInterval = 1 * time.Minute
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
