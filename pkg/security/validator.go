package security

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// DefaultMaxRecoveryLen bounds the recovery image a manifest may describe.
// recovery_len sizes a read of the live partition, so an absurd value is
// refused before any device I/O. Override it with max-recovery-len.
const DefaultMaxRecoveryLen int64 = 1 << 30

// Validator checks manifest fields before they are used to build local
// paths or sized reads of the recovery device.
type Validator struct {
	maxRecoveryLen int64
}

// NewValidator creates a new security validator. maxRecoveryLen <= 0
// selects DefaultMaxRecoveryLen.
func NewValidator(maxRecoveryLen int64) *Validator {
	if maxRecoveryLen <= 0 {
		maxRecoveryLen = DefaultMaxRecoveryLen
	}
	slog.Debug("security_validator_init", "max_recovery_len_mb", maxRecoveryLen/1024/1024)
	return &Validator{maxRecoveryLen: maxRecoveryLen}
}

// ValidateArtifactName checks that the file name derived from an artifact
// URL stays inside the staging directory once joined to it.
func (v *Validator) ValidateArtifactName(name string) error {
	if name == "" || name == "." || name == ".." {
		slog.Error("security_name_validation_failed", "name", name, "reason", "empty_or_dot")
		return fmt.Errorf("security: invalid artifact name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		slog.Error("security_name_validation_failed", "name", name, "reason", "separator")
		return fmt.Errorf("security: artifact name must be a base name: %q", name)
	}
	if path.Clean(name) != name {
		slog.Error("security_name_validation_failed", "name", name, "reason", "not_clean")
		return fmt.Errorf("security: artifact name is not clean: %q", name)
	}
	return nil
}

// ValidateHash checks for a lowercase or uppercase 64 character hex digest.
// Failures are logged as warnings; callers decide whether they are fatal.
func (v *Validator) ValidateHash(field, hash string) error {
	if len(hash) != 64 {
		slog.Warn("security_hash_validation_failed", "field", field, "length", len(hash))
		return fmt.Errorf("security: %s must be 64 hex characters, got %d", field, len(hash))
	}
	for _, c := range hash {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			slog.Warn("security_hash_validation_failed", "field", field, "reason", "non_hex")
			return fmt.Errorf("security: %s contains non-hex character %q", field, c)
		}
	}
	return nil
}

// ValidateRecoveryLen checks the byte length used to hash the live device.
func (v *Validator) ValidateRecoveryLen(n int64) error {
	if n <= 0 {
		slog.Error("security_recovery_len_invalid", "recovery_len", n)
		return fmt.Errorf("security: recovery_len must be positive, got %d", n)
	}
	if n > v.maxRecoveryLen {
		slog.Error("security_recovery_len_exceeded",
			"recovery_len_mb", n/1024/1024,
			"max_recovery_len_mb", v.maxRecoveryLen/1024/1024)
		return fmt.Errorf("security: recovery_len %d exceeds max %d", n, v.maxRecoveryLen)
	}
	return nil
}
