package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/freightcore/freightcore/internal/bytesize"
)

// Validate checks the configuration for errors.
//
// Struct tags cover field-level rules (ranges, enumerations, required
// fields); the cross-section rules that tags cannot express are checked by
// hand below. Validation never mutates the configuration, so it can run on
// user input before defaults are applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if err := validateStore(&cfg.Store); err != nil {
		return err
	}

	return validateTransfer(&cfg.Transfer)
}

// validateStore checks backend-specific store rules.
func validateStore(cfg *StoreConfig) error {
	if cfg.Backend != "s3" {
		return nil
	}

	if cfg.S3.Bucket == "" {
		return fmt.Errorf("store.s3.bucket is required when store.backend is \"s3\"")
	}

	// S3 rejects parts below 5MiB (except the last) and above 5GiB.
	if cfg.S3.PartSize != 0 {
		if cfg.S3.PartSize < 5*bytesize.MiB {
			return fmt.Errorf("store.s3.part_size %s is below the S3 minimum of 5MiB", cfg.S3.PartSize)
		}
		if cfg.S3.PartSize > 5*bytesize.GiB {
			return fmt.Errorf("store.s3.part_size %s is above the S3 maximum of 5GiB", cfg.S3.PartSize)
		}
	}

	return nil
}

// validateTransfer checks relationships between transfer limits.
func validateTransfer(cfg *TransferConfig) error {
	if cfg.MaxChunkBytes != 0 && cfg.RecommendedChunkBytes > cfg.MaxChunkBytes {
		return fmt.Errorf("transfer.recommended_chunk_bytes %s exceeds transfer.max_chunk_bytes %s",
			cfg.RecommendedChunkBytes, cfg.MaxChunkBytes)
	}
	if cfg.MaxInflightBytes != 0 && cfg.MaxDirectBuffer > cfg.MaxInflightBytes {
		return fmt.Errorf("transfer.max_direct_buffer %s exceeds transfer.max_inflight_bytes %s",
			cfg.MaxDirectBuffer, cfg.MaxInflightBytes)
	}
	return nil
}
