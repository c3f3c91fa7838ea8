package schema

import "errors"

// ManagerConfig defines defaults and limits for the session manager.
type ManagerConfig struct {
	// NewDocumentBase is the prefix of generated document names.
	NewDocumentBase string
	// PlaceholderText seeds newly generated documents.
	PlaceholderText string
	// NewDocumentProbeMax caps how many suffixes NewDocument probes.
	NewDocumentProbeMax int
}

const (
	// DefaultNewDocumentBase is the prefix of generated names.
	DefaultNewDocumentBase = "new contract "
	// DefaultPlaceholderText seeds new documents.
	DefaultPlaceholderText = "# Welcome to the blockchain revolution"
	// DefaultNewDocumentProbeMax is the suffix probe cap.
	DefaultNewDocumentProbeMax = 10
)

// NormalizeManagerConfig applies defaults and validates the config.
func NormalizeManagerConfig(cfg ManagerConfig) (ManagerConfig, error) {
	if cfg.NewDocumentBase == "" {
		cfg.NewDocumentBase = DefaultNewDocumentBase
	}
	if cfg.PlaceholderText == "" {
		cfg.PlaceholderText = DefaultPlaceholderText
	}
	if cfg.NewDocumentProbeMax == 0 {
		cfg.NewDocumentProbeMax = DefaultNewDocumentProbeMax
	}
	if cfg.NewDocumentProbeMax < 1 {
		return ManagerConfig{}, errors.New("new document probe max must be positive")
	}
	return cfg, nil
}
