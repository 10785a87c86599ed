// Package manifest fetches and decodes the update manifest.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/security"
	"github.com/eon-neos/neosupdater/pkg/storage"
)

const (
	msgLoadFailed = "failed to load update manifest"
	msgInvalid    = "invalid update manifest"
)

// Manifest describes the OS image and, optionally, a recovery image.
// Either all recovery fields are set with RecoveryLen > 0, or none are.
type Manifest struct {
	OTAURL       string `json:"ota_url"`
	OTAHash      string `json:"ota_hash"`
	RecoveryURL  string `json:"recovery_url,omitempty"`
	RecoveryHash string `json:"recovery_hash,omitempty"`
	RecoveryLen  int64  `json:"recovery_len,omitempty"`
}

// HasRecovery reports whether the manifest carries a recovery image.
func (m *Manifest) HasRecovery() bool {
	return m.RecoveryURL != "" && m.RecoveryHash != "" && m.RecoveryLen > 0
}

// Client retrieves manifests with a single non-resumed GET.
type Client struct {
	getter    storage.Getter
	validator *security.Validator
}

// NewClient creates a manifest client. A nil validator uses the default limits.
func NewClient(getter storage.Getter, validator *security.Validator) *Client {
	if validator == nil {
		validator = security.NewValidator(0)
	}
	return &Client{getter: getter, validator: validator}
}

// Fetch downloads and decodes the manifest at url. Every failure is a
// manifest error and no partial manifest is returned.
func (c *Client) Fetch(ctx context.Context, url string) (*Manifest, error) {
	slog.Info("manifest_fetch_started", "url", url)

	var buf bytes.Buffer
	if err := c.getter.Get(ctx, url, 0, &buf, nil); err != nil {
		slog.Error("manifest_fetch_failed", "url", url, "error", err)
		return nil, errors.Manifest(msgLoadFailed, err)
	}
	if buf.Len() == 0 {
		slog.Error("manifest_fetch_failed", "url", url, "reason", "empty_body")
		return nil, errors.Manifest(msgLoadFailed, nil)
	}

	m, err := Parse(buf.Bytes())
	if err != nil {
		return nil, err
	}
	if err := c.validate(m); err != nil {
		return nil, errors.Manifest(msgInvalid, err)
	}

	slog.Info("manifest_fetched",
		"url", url,
		"ota_url", m.OTAURL,
		"has_recovery", m.HasRecovery(),
		"recovery_len", m.RecoveryLen)
	return m, nil
}

// Parse decodes a manifest document and checks required fields. Unknown
// fields are ignored and hashes are normalized to lowercase.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Error("manifest_decode_failed", "error", err)
		return nil, errors.Manifest(msgLoadFailed, err)
	}

	m.OTAHash = strings.ToLower(strings.TrimSpace(m.OTAHash))
	m.RecoveryHash = strings.ToLower(strings.TrimSpace(m.RecoveryHash))

	if m.OTAURL == "" || m.OTAHash == "" {
		slog.Error("manifest_invalid", "reason", "missing_ota_fields")
		return nil, errors.Manifest(msgInvalid, nil)
	}

	if !m.HasRecovery() {
		if m.RecoveryURL != "" || m.RecoveryHash != "" || m.RecoveryLen != 0 {
			slog.Warn("manifest_partial_recovery_ignored",
				"recovery_url", m.RecoveryURL,
				"has_recovery_hash", m.RecoveryHash != "",
				"recovery_len", m.RecoveryLen)
		}
		m.RecoveryURL, m.RecoveryHash, m.RecoveryLen = "", "", 0
	}

	return &m, nil
}

// validate rejects fields that would be unsafe to act on. A digest that is
// not SHA-256 shaped is only logged: it can never match, so the artifact is
// downloaded and then fails verification as corrupt.
func (c *Client) validate(m *Manifest) error {
	c.checkHash("ota_hash", m.OTAHash)
	if err := c.validator.ValidateArtifactName(storage.BaseName(m.OTAURL)); err != nil {
		return err
	}
	if !m.HasRecovery() {
		return nil
	}
	c.checkHash("recovery_hash", m.RecoveryHash)
	if err := c.validator.ValidateArtifactName(storage.BaseName(m.RecoveryURL)); err != nil {
		return err
	}
	return c.validator.ValidateRecoveryLen(m.RecoveryLen)
}

func (c *Client) checkHash(field, hash string) {
	if err := c.validator.ValidateHash(field, hash); err != nil {
		slog.Warn("manifest_hash_not_sha256", "field", field, "error", err)
	}
}
