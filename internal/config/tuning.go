package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Accepted string values. They mirror planes.Alignment and raycast.Mode;
// this package does not import those to stay a leaf.
var (
	validAlignments = map[string]bool{
		"horizontal_up":    true,
		"horizontal_down":  true,
		"vertical":         true,
		"not_axis_aligned": true,
	}
	validHitModes = map[string]bool{
		"polygon": true,
		"bounds":  true,
	}
)

// TuningConfig represents the root configuration for placement tuning.
// Every field is optional; Get* accessors supply defaults for unset fields.
type TuningConfig struct {
	// Placement constraints
	RequiredAlignment *string  `json:"required_alignment,omitempty"`
	MinAreaM2         *float64 `json:"min_area_m2,omitempty"`
	MaxSlopeDeg       *float64 `json:"max_slope_deg,omitempty"`
	HeightOffsetM     *float64 `json:"height_offset_m,omitempty"`
	FaceObserver      *bool    `json:"face_observer,omitempty"`

	// Candidate stabilisation
	SmoothingAlpha         *float64 `json:"smoothing_alpha,omitempty"` // 1.0 = no smoothing
	SnapDistanceM          *float64 `json:"snap_distance_m,omitempty"`
	SubsumeClampToleranceM *float64 `json:"subsume_clamp_tolerance_m,omitempty"`

	// Session
	ScanGraceFrames       *int     `json:"scan_grace_frames,omitempty"`
	AutoPlaceMinAreaM2    *float64 `json:"auto_place_min_area_m2,omitempty"`
	PlanesRequiredToStart *int     `json:"planes_required_to_start,omitempty"`

	// Raycast
	HitMode         *string  `json:"hit_mode,omitempty"`
	MaxRayDistanceM *float64 `json:"max_ray_distance_m,omitempty"`
	VerticalFOVDeg  *float64 `json:"vertical_fov_deg,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
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

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/arplace/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.RequiredAlignment != nil && !validAlignments[*c.RequiredAlignment] {
		return fmt.Errorf("required_alignment %q is not one of horizontal_up, horizontal_down, vertical, not_axis_aligned", *c.RequiredAlignment)
	}
	if c.MinAreaM2 != nil && *c.MinAreaM2 < 0 {
		return fmt.Errorf("min_area_m2 must be non-negative, got %f", *c.MinAreaM2)
	}
	if c.MaxSlopeDeg != nil {
		if *c.MaxSlopeDeg < 0 || *c.MaxSlopeDeg > 180 {
			return fmt.Errorf("max_slope_deg must be between 0 and 180, got %f", *c.MaxSlopeDeg)
		}
	}
	if c.SmoothingAlpha != nil {
		if *c.SmoothingAlpha <= 0 || *c.SmoothingAlpha > 1 {
			return fmt.Errorf("smoothing_alpha must be in (0, 1], got %f", *c.SmoothingAlpha)
		}
	}
	if c.SnapDistanceM != nil && *c.SnapDistanceM < 0 {
		return fmt.Errorf("snap_distance_m must be non-negative, got %f", *c.SnapDistanceM)
	}
	if c.SubsumeClampToleranceM != nil && *c.SubsumeClampToleranceM < 0 {
		return fmt.Errorf("subsume_clamp_tolerance_m must be non-negative, got %f", *c.SubsumeClampToleranceM)
	}
	if c.ScanGraceFrames != nil && *c.ScanGraceFrames < 0 {
		return fmt.Errorf("scan_grace_frames must be non-negative, got %d", *c.ScanGraceFrames)
	}
	if c.AutoPlaceMinAreaM2 != nil && *c.AutoPlaceMinAreaM2 < 0 {
		return fmt.Errorf("auto_place_min_area_m2 must be non-negative, got %f", *c.AutoPlaceMinAreaM2)
	}
	if c.PlanesRequiredToStart != nil && *c.PlanesRequiredToStart < 0 {
		return fmt.Errorf("planes_required_to_start must be non-negative, got %d", *c.PlanesRequiredToStart)
	}
	if c.HitMode != nil && !validHitModes[*c.HitMode] {
		return fmt.Errorf("hit_mode %q is not one of polygon, bounds", *c.HitMode)
	}
	if c.MaxRayDistanceM != nil && *c.MaxRayDistanceM < 0 {
		return fmt.Errorf("max_ray_distance_m must be non-negative, got %f", *c.MaxRayDistanceM)
	}
	if c.VerticalFOVDeg != nil {
		if *c.VerticalFOVDeg <= 0 || *c.VerticalFOVDeg >= 180 {
			return fmt.Errorf("vertical_fov_deg must be in (0, 180), got %f", *c.VerticalFOVDeg)
		}
	}
	return nil
}

// GetRequiredAlignment returns the required_alignment value or the default.
func (c *TuningConfig) GetRequiredAlignment() string {
	if c.RequiredAlignment == nil || *c.RequiredAlignment == "" {
		return "horizontal_up" // default
	}
	return *c.RequiredAlignment
}

// GetMinAreaM2 returns the min_area_m2 value or the default.
func (c *TuningConfig) GetMinAreaM2() float64 {
	if c.MinAreaM2 == nil {
		return 0.25 // default
	}
	return *c.MinAreaM2
}

// GetMaxSlopeDeg returns the max_slope_deg value or the default.
func (c *TuningConfig) GetMaxSlopeDeg() float64 {
	if c.MaxSlopeDeg == nil {
		return 10 // default
	}
	return *c.MaxSlopeDeg
}

// GetHeightOffsetM returns the height_offset_m value or the default.
func (c *TuningConfig) GetHeightOffsetM() float64 {
	if c.HeightOffsetM == nil {
		return 0.05 // default
	}
	return *c.HeightOffsetM
}

// GetFaceObserver returns the face_observer value or the default.
func (c *TuningConfig) GetFaceObserver() bool {
	if c.FaceObserver == nil {
		return false // default
	}
	return *c.FaceObserver
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *TuningConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 1.0 // default: smoothing off
	}
	return *c.SmoothingAlpha
}

// GetSnapDistanceM returns the snap_distance_m value or the default.
func (c *TuningConfig) GetSnapDistanceM() float64 {
	if c.SnapDistanceM == nil {
		return 0.02 // default
	}
	return *c.SnapDistanceM
}

// GetSubsumeClampToleranceM returns the subsume_clamp_tolerance_m value or the default.
// Re-anchor clamps longer than this are logged; the clamp itself is not limited.
func (c *TuningConfig) GetSubsumeClampToleranceM() float64 {
	if c.SubsumeClampToleranceM == nil {
		return 0.05 // default
	}
	return *c.SubsumeClampToleranceM
}

// GetScanGraceFrames returns the scan_grace_frames value or the default.
func (c *TuningConfig) GetScanGraceFrames() int {
	if c.ScanGraceFrames == nil {
		return 0 // default
	}
	return *c.ScanGraceFrames
}

// GetAutoPlaceMinAreaM2 returns the auto_place_min_area_m2 value or the default.
func (c *TuningConfig) GetAutoPlaceMinAreaM2() float64 {
	if c.AutoPlaceMinAreaM2 == nil {
		return 1.0 // default
	}
	return *c.AutoPlaceMinAreaM2
}

// GetPlanesRequiredToStart returns the planes_required_to_start value or the default.
func (c *TuningConfig) GetPlanesRequiredToStart() int {
	if c.PlanesRequiredToStart == nil {
		return 1 // default
	}
	return *c.PlanesRequiredToStart
}

// GetHitMode returns the hit_mode value or the default.
func (c *TuningConfig) GetHitMode() string {
	if c.HitMode == nil || *c.HitMode == "" {
		return "polygon" // default
	}
	return *c.HitMode
}

// GetMaxRayDistanceM returns the max_ray_distance_m value or the default.
// Zero means unbounded.
func (c *TuningConfig) GetMaxRayDistanceM() float64 {
	if c.MaxRayDistanceM == nil {
		return 20 // default
	}
	return *c.MaxRayDistanceM
}

// GetVerticalFOVDeg returns the vertical_fov_deg value or the default.
func (c *TuningConfig) GetVerticalFOVDeg() float64 {
	if c.VerticalFOVDeg == nil {
		return 60 // default
	}
	return *c.VerticalFOVDeg
}
