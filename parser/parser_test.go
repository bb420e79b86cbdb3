package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsers(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{
			name: "yaml",
			file: "manifest.yaml",
			data: "name: secure_core\nversion: 1.2.0\ndescription: hashing\ndigest: sha256:abcd\n",
		},
		{
			name: "yml",
			file: "MANIFEST.YML",
			data: "name: secure_core\nversion: 1.2.0\ndescription: hashing\ndigest: sha256:abcd\n",
		},
		{
			name: "json",
			file: "manifest.json",
			data: `{"name":"secure_core","version":"1.2.0","description":"hashing","digest":"sha256:abcd"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ForFile(tt.file)
			require.NoError(t, err)

			m, err := p.Parse([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, &Manifest{
				Name:        "secure_core",
				Version:     "1.2.0",
				Description: "hashing",
				Digest:      "sha256:abcd",
			}, m)
			assert.NoError(t, m.Validate())
		})
	}
}

func TestForFile_Unsupported(t *testing.T) {
	_, err := ForFile("manifest.toml")
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	_, err := NewYamlManifestParser().Parse([]byte("name: [oops"))
	assert.Error(t, err)

	_, err = NewJSONManifestParser().Parse([]byte("{"))
	assert.Error(t, err)
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  bool
	}{
		{"minimal", Manifest{Name: "alpha"}, false},
		{"missing name", Manifest{}, true},
		{"bad name", Manifest{Name: "../alpha"}, true},
		{"bad version", Manifest{Name: "alpha", Version: "one"}, true},
		{"bad digest", Manifest{Name: "alpha", Digest: "crc32:00"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidManifest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
