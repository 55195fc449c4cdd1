// SPDX-License-Identifier: MIT

package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfineRelPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "results", "abc"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "results", "abc", "report.json"), []byte("{}"), 0o640))

	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{name: "plain file", rel: "results/abc/report.json"},
		{name: "nonexistent under root", rel: "results/abc/missing.puml"},
		{name: "dot segments collapse inside", rel: "results/abc/../abc/report.json"},
		{name: "parent escape", rel: "../outside", wantErr: true},
		{name: "bare dotdot", rel: "..", wantErr: true},
		{name: "absolute path", rel: "/etc/passwd", wantErr: true},
		{name: "backslash", rel: `results\abc`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfineRelPath(root, tt.rel)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestConfineRelPathSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ on windows")
	}

	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o640))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := ConfineRelPath(root, "link/secret")
	assert.Error(t, err)
}

func TestIsRegularFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o640))

	assert.NoError(t, IsRegularFile(file))
	assert.Error(t, IsRegularFile(root))
	assert.Error(t, IsRegularFile(filepath.Join(root, "missing")))
}
