// Package config holds tunable parameters for the fusion pipeline.
//
// TuningConfig mirrors the schema of an operator-facing JSON file: every
// field is optional, so a partial document only overrides the values it
// names and everything else falls back to the compiled-in defaults from
// the specification.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the canonical location for a tuning overrides file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents tunable parameters for the assembler and the
// elevation map. Fields are pointers so that omission in JSON is
// distinguishable from an explicit zero value.
type TuningConfig struct {
	// Assembler (§4.2)
	PartialScanTimeout *string `json:"partial_scan_timeout,omitempty"` // duration string, default "200ms"

	// ElevCell integration (§4.3.3)
	TauAccept  *float64 `json:"tau_accept,omitempty"`  // default 0.25
	TauReplace *float64 `json:"tau_replace,omitempty"` // default 0.70
	TauUpload  *float64 `json:"tau_upload,omitempty"`  // default 0.06
	NSat       *int     `json:"n_sat,omitempty"`       // default 20
	NConf      *int     `json:"n_conf,omitempty"`      // default 5
	K          *int     `json:"k,omitempty"`           // default 3
	DtWindow   *string  `json:"dt_window,omitempty"`   // duration string, default "1s"

	// Geometry (§4.3.1)
	TileSize           *float64 `json:"tile_size,omitempty"`            // default 32.0
	BaseCellResolution *float64 `json:"base_cell_resolution,omitempty"` // default 0.25

	// Export (§4.3.5, §5)
	UploadBudgetBytes *int `json:"upload_budget_bytes,omitempty"` // default 10<<20
}

// EmptyTuningConfig returns a TuningConfig with every field unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig reads and validates a TuningConfig from a JSON file.
// The path must end in .json and the file must be under 1MB; both
// restrictions exist only to keep a misconfigured path from attempting to
// parse an arbitrary large file as tuning data.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that any set values are in range and that duration
// strings parse.
func (c *TuningConfig) Validate() error {
	if c.TauAccept != nil && *c.TauAccept < 0 {
		return fmt.Errorf("tau_accept must be non-negative, got %f", *c.TauAccept)
	}
	if c.TauReplace != nil && c.TauAccept != nil && *c.TauReplace < *c.TauAccept {
		return fmt.Errorf("tau_replace (%f) must be >= tau_accept (%f)", *c.TauReplace, *c.TauAccept)
	}
	if c.NSat != nil && *c.NSat < 1 {
		return fmt.Errorf("n_sat must be >= 1, got %d", *c.NSat)
	}
	if c.NConf != nil && *c.NConf < 1 {
		return fmt.Errorf("n_conf must be >= 1, got %d", *c.NConf)
	}
	if c.K != nil && *c.K < 1 {
		return fmt.Errorf("k must be >= 1, got %d", *c.K)
	}
	if c.TileSize != nil && *c.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive, got %f", *c.TileSize)
	}
	if c.BaseCellResolution != nil && *c.BaseCellResolution <= 0 {
		return fmt.Errorf("base_cell_resolution must be positive, got %f", *c.BaseCellResolution)
	}
	if c.PartialScanTimeout != nil && *c.PartialScanTimeout != "" {
		if _, err := time.ParseDuration(*c.PartialScanTimeout); err != nil {
			return fmt.Errorf("invalid partial_scan_timeout %q: %w", *c.PartialScanTimeout, err)
		}
	}
	if c.DtWindow != nil && *c.DtWindow != "" {
		if _, err := time.ParseDuration(*c.DtWindow); err != nil {
			return fmt.Errorf("invalid dt_window %q: %w", *c.DtWindow, err)
		}
	}
	return nil
}

// GetPartialScanTimeout returns PARTIAL_TIMEOUT (§4.2), defaulting to 200ms.
func (c *TuningConfig) GetPartialScanTimeout() time.Duration {
	if c.PartialScanTimeout == nil || *c.PartialScanTimeout == "" {
		return 200 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.PartialScanTimeout)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// GetTauAccept returns τ_accept, defaulting to 0.25m.
func (c *TuningConfig) GetTauAccept() float64 {
	if c.TauAccept == nil {
		return 0.25
	}
	return *c.TauAccept
}

// GetTauReplace returns τ_replace, defaulting to 0.7m.
func (c *TuningConfig) GetTauReplace() float64 {
	if c.TauReplace == nil {
		return 0.7
	}
	return *c.TauReplace
}

// GetTauUpload returns τ_upload, defaulting to 0.06m.
func (c *TuningConfig) GetTauUpload() float64 {
	if c.TauUpload == nil {
		return 0.06
	}
	return *c.TauUpload
}

// GetNSat returns N_sat, defaulting to 20.
func (c *TuningConfig) GetNSat() int {
	if c.NSat == nil {
		return 20
	}
	return *c.NSat
}

// GetNConf returns N_conf, defaulting to 5.
func (c *TuningConfig) GetNConf() int {
	if c.NConf == nil {
		return 5
	}
	return *c.NConf
}

// GetK returns K, defaulting to 3.
func (c *TuningConfig) GetK() int {
	if c.K == nil {
		return 3
	}
	return *c.K
}

// GetDtWindow returns Δt_window, defaulting to 1s.
func (c *TuningConfig) GetDtWindow() time.Duration {
	if c.DtWindow == nil || *c.DtWindow == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.DtWindow)
	if err != nil {
		return time.Second
	}
	return d
}

// GetTileSize returns the tile side length in meters, defaulting to 32.0.
func (c *TuningConfig) GetTileSize() float64 {
	if c.TileSize == nil {
		return 32.0
	}
	return *c.TileSize
}

// GetBaseCellResolution returns the finest cell resolution in meters,
// defaulting to 0.25.
func (c *TuningConfig) GetBaseCellResolution() float64 {
	if c.BaseCellResolution == nil {
		return 0.25
	}
	return *c.BaseCellResolution
}

// GetUploadBudgetBytes returns the recommended per-frame dirty-tile
// export budget, defaulting to 10MB.
func (c *TuningConfig) GetUploadBudgetBytes() int {
	if c.UploadBudgetBytes == nil {
		return 10 << 20
	}
	return *c.UploadBudgetBytes
}
