package config

import (
	"fmt"
	"strings"
)

// SourceKind selects where the manifest comes from.
type SourceKind int

const (
	SourceProduction SourceKind = iota
	SourceStaging
	SourceLocal
	SourceCustom
	// SourceBackgroundCache downloads and verifies without a UI, then exits.
	SourceBackgroundCache
)

func (k SourceKind) String() string {
	switch k {
	case SourceProduction:
		return "production"
	case SourceStaging:
		return "staging"
	case SourceLocal:
		return "local"
	case SourceCustom:
		return "custom"
	case SourceBackgroundCache:
		return "bgcache"
	default:
		return "unknown"
	}
}

// Source is the manifest source resolved once at startup.
type Source struct {
	Kind        SourceKind
	ManifestURL string
}

// ResolveSource maps process arguments to a manifest source: no argument is
// production, "staging" and "local" pick the configured alternates,
// "bgcache <url>" is a background download and anything else is a literal
// manifest URL.
func ResolveSource(args []string, cfg *Config) (Source, error) {
	if len(args) == 0 {
		return Source{Kind: SourceProduction, ManifestURL: cfg.ManifestURL}, nil
	}

	switch args[0] {
	case "staging":
		if len(args) > 1 {
			return Source{}, fmt.Errorf("unexpected arguments after staging: %s", strings.Join(args[1:], " "))
		}
		return Source{Kind: SourceStaging, ManifestURL: cfg.StagingManifestURL}, nil
	case "local":
		if len(args) > 1 {
			return Source{}, fmt.Errorf("unexpected arguments after local: %s", strings.Join(args[1:], " "))
		}
		return Source{Kind: SourceLocal, ManifestURL: cfg.LocalManifestURL}, nil
	case "bgcache":
		if len(args) != 2 || args[1] == "" {
			return Source{}, fmt.Errorf("bgcache requires exactly one manifest url")
		}
		return Source{Kind: SourceBackgroundCache, ManifestURL: args[1]}, nil
	}

	if len(args) > 1 {
		return Source{}, fmt.Errorf("expected a single manifest url, got %d arguments", len(args))
	}
	return Source{Kind: SourceCustom, ManifestURL: args[0]}, nil
}
