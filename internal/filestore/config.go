package filestore

// Provider identifies the object storage backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
)

// Config describes how to reach an S3-compatible server. CSV inputs and
// artifact destinations given as s3://bucket/key URIs are resolved against
// it.
type Config struct {
	Provider  Provider
	Endpoint  string // host:port, e.g. "localhost:9000"
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string // empty for MinIO
}

// DefaultConfig returns a plain-HTTP MinIO config for the given credentials.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}
