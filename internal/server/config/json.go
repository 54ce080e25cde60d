package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/devplane-io/devplane/internal/flagx"
	"github.com/devplane-io/devplane/internal/timex"
)

// JsonConfig is the DTO for JSON config files. Interval fields use
// timex.Duration, which accepts both string values such as "1m" and
// integer nanoseconds; after unmarshalling the values are copied into the
// runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP  string         `json:"endpoint_addr_http"`
	DatabaseDSN       string         `json:"database_dsn"`
	StateFile         string         `json:"state_file"`
	SecretKey         string         `json:"secret_key"`
	ReconcileInterval timex.Duration `json:"reconcile_interval"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the -c
// or -config flags. If neither flag is set, no file is loaded. A file that
// cannot be read or parsed panics: a half-applied config is worse than a
// failed start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.StateFile = c.StateFile
	config.SecretKey = c.SecretKey
	config.ReconcileInterval = time.Duration(c.ReconcileInterval.Duration)
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
