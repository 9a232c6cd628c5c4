package filestore

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderMinIO Provider = "minio"
)

// Config holds all settings needed to open a Store.
type Config struct {
	// Provider is the storage backend (ProviderLocal or ProviderMinIO).
	Provider Provider

	// Dir is the root directory of a local store. It is created if missing.
	Dir string

	// Endpoint is the host:port of the MinIO server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Region is used by region-aware backends (e.g. AWS S3).
	// Leave empty for MinIO.
	Region string

	// Bucket holds the objects of a MinIO store.
	Bucket string

	// Prefix is prepended to every key in the bucket, e.g. "migrations/".
	Prefix string
}

// DefaultConfig returns a local store rooted at dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Provider: ProviderLocal,
		Dir:      dir,
	}
}

// MinIOConfig returns a config for bucket on a MinIO server.
func MinIOConfig(endpoint, accessKey, secretKey, bucket string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
	}
}
