package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	other := filepath.Join(tmp, "other")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(other, 0o755))
	require.NoError(t, os.Symlink(other, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safe, "map.png"), false},
		{"nested missing dirs", filepath.Join(safe, "a", "b", "map.png"), false},
		{"dir itself", safe, false},
		{"dot dot", filepath.Join(safe, "..", "map.png"), true},
		{"sibling", filepath.Join(other, "map.png"), true},
		{"through symlink", filepath.Join(safe, "link", "map.png"), true},
		{"missing file under symlink", filepath.Join(safe, "link", "x", "y.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideAllowedDirs)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	assert.NoError(t, ValidateOutputPath(filepath.Join(b, "h.db"), a, b))
	assert.ErrorIs(t, ValidateOutputPath("/etc/passwd", a, b), ErrOutsideAllowedDirs)

	// Defaults: cwd and temp dir.
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "planes.png")))
	assert.NoError(t, ValidateOutputPath("planes.png"))
	assert.Error(t, ValidateOutputPath("/etc/passwd"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"tabletop":           "tabletop",
		"Synthetic floor #1": "Synthetic_floor_1",
		"../../etc/passwd":   "etc_passwd",
		"a//b":               "a_b",
		"":                   "unnamed",
		"...":                "unnamed",
		"scène":              "sc_ne",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}
