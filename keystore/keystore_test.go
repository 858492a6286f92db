package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshold.network/tapsign/frost"
	"threshold.network/tapsign/internal/testutils"
)

var ciphersuite = frost.NewBip340Ciphersuite()

func generateKeyMaterial(
	t *testing.T,
	seed byte,
) (*frost.PublicKeyPackage, []*frost.SigningShare) {
	pkg, shares, err := frost.GenerateKeyMaterial(
		testutils.NewSeededRandom(seed),
		ciphersuite,
		2,
		3,
	)
	require.NoError(t, err)
	return pkg, shares
}

func TestSaveLoadRoundtrip(t *testing.T) {
	pkg, shares := generateKeyMaterial(t, 0x01)

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, Save(path, pkg, shares))

	loadedPkg, loadedShares, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, pkg.Marshal(ciphersuite), loadedPkg.Marshal(ciphersuite))

	require.Len(t, loadedShares, len(shares))
	for i, share := range shares {
		assert.Equal(t, share.Marshal(), loadedShares[i].Marshal())
	}
}

func TestSave_NoTemporaryFileLeftBehind(t *testing.T) {
	pkg, shares := generateKeyMaterial(t, 0x02)

	dir := t.TempDir()
	path := filepath.Join(dir, "keys.json")
	require.NoError(t, Save(path, pkg, shares))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keys.json", entries[0].Name())
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

// corruptKeyFile saves a valid key file, applies the corruption to its JSON
// content, and writes it back.
func corruptKeyFile(
	t *testing.T,
	seed byte,
	corrupt func(*keyFile),
) string {
	pkg, shares := generateKeyMaterial(t, seed)

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, Save(path, pkg, shares))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var file keyFile
	require.NoError(t, json.Unmarshal(content, &file))

	corrupt(&file)

	corrupted, err := json.Marshal(&file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	return path
}

func TestLoad_Corrupt(t *testing.T) {
	tests := map[string]func(*keyFile){
		"unknown version": func(file *keyFile) {
			file.Version = 2
		},
		"missing share": func(file *keyFile) {
			delete(file.Shares, "2")
		},
		"extra share": func(file *keyFile) {
			file.Shares["9"] = file.Shares["1"]
		},
		"malformed package hex": func(file *keyFile) {
			file.PublicKeyPackage = "zz" + file.PublicKeyPackage[2:]
		},
		"truncated package": func(file *keyFile) {
			file.PublicKeyPackage = file.PublicKeyPackage[:32]
		},
		"malformed share hex": func(file *keyFile) {
			file.Shares["1"] = "not-hex"
		},
		"share under the wrong key": func(file *keyFile) {
			file.Shares["1"], file.Shares["2"] =
				file.Shares["2"], file.Shares["1"]
		},
		"tampered share scalar": func(file *keyFile) {
			share := file.Shares["1"]
			tampered := strings.ToLower(share[:len(share)-1])
			if strings.HasSuffix(share, "0") {
				tampered += "1"
			} else {
				tampered += "0"
			}
			file.Shares["1"] = tampered
		},
	}

	for testName, corrupt := range tests {
		t.Run(testName, func(t *testing.T) {
			path := corruptKeyFile(t, 0x03, corrupt)

			_, _, err := Load(path)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestLoad_NotJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o600))

	_, _, err := Load(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}
