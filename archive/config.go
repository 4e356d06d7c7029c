package archive

import (
	"errors"
	"fmt"
)

// Providers accepted by Config.Provider.
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
	ProviderMinIO = "minio"
)

// Default configuration values.
const (
	DefaultBasePath = "./archive"
	DefaultRegion   = "us-east-1"
	DefaultPrefix   = "reports"
)

// Config holds archive configuration.
type Config struct {
	// Enabled turns report archiving on.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Provider selects the backend: local, s3 or minio.
	Provider string `mapstructure:"provider" json:"provider"`

	// Prefix is prepended to every object path.
	Prefix string `mapstructure:"prefix" json:"prefix"`

	// BasePath is the root directory for the local provider.
	BasePath string `mapstructure:"base_path" json:"base_path"`

	Bucket string `mapstructure:"bucket" json:"bucket"`
	Region string `mapstructure:"region" json:"region"`

	// Endpoint is a custom S3-compatible endpoint. Required for minio,
	// where it is host:port without a scheme.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`

	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`

	// UseSSL selects https for minio.
	UseSSL bool `mapstructure:"use_ssl" json:"use_ssl"`

	// ForcePathStyle forces path-style S3 URLs.
	ForcePathStyle bool `mapstructure:"force_path_style" json:"force_path_style"`

	// CreateBucket creates a missing minio bucket on start.
	CreateBucket bool `mapstructure:"create_bucket" json:"create_bucket"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
}

// Validate checks the configuration for the selected provider.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Provider {
	case ProviderLocal:
		if c.BasePath == "" {
			return errors.New("archive: base_path is required for local provider")
		}
	case ProviderS3:
		if c.Bucket == "" {
			return errors.New("archive: bucket is required for s3 provider")
		}
	case ProviderMinIO:
		var errs []error
		if c.Bucket == "" {
			errs = append(errs, errors.New("bucket is required"))
		}
		if c.Endpoint == "" {
			errs = append(errs, errors.New("endpoint is required"))
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			errs = append(errs, errors.New("access_key and secret_key are required"))
		}
		if len(errs) > 0 {
			return fmt.Errorf("archive: invalid minio config: %w", errors.Join(errs...))
		}
	default:
		return fmt.Errorf("archive: unsupported provider %q", c.Provider)
	}
	return nil
}
