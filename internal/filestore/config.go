package filestore

// Provider identifies the artifact storage backend.
type Provider string

const (
	ProviderLocal Provider = "local" // a directory per bucket under Dir
	ProviderMinIO Provider = "minio" // any S3-compatible endpoint
)

// Config holds the settings for either provider; fields the chosen
// provider does not use are ignored.
type Config struct {
	Provider Provider

	// Dir is the root directory for ProviderLocal.
	Dir string

	// MinIO connection.
	Endpoint  string // host:port, e.g. "localhost:9000"
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string

	// DefaultBucket is created on open and receives every artifact the
	// controller saves.
	DefaultBucket string
}

// DefaultConfig saves artifacts under dir/edasync.
func DefaultConfig(dir string) *Config {
	return &Config{
		Provider:      ProviderLocal,
		Dir:           dir,
		DefaultBucket: "edasync",
	}
}

// MinIOConfig targets a plain-HTTP MinIO, the usual local-dev setup.
func MinIOConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:      ProviderMinIO,
		Endpoint:      endpoint,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		DefaultBucket: "edasync",
	}
}
