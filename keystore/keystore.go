// Package keystore persists the trusted dealer's key material in a JSON key
// file: the public key package and the full map of signing shares. The file
// holds secret material; callers are responsible for its filesystem
// permissions and its distribution to the participants.
package keystore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"threshold.network/tapsign/frost"
)

// ErrCorrupt is returned when the key file cannot be decoded or fails its
// consistency checks.
var ErrCorrupt = errors.New("corrupt key file")

// latestVersion is the current key file format version.
const latestVersion = 1

// keyFile is the on-disk JSON shape. All binary fields are hex-encoded.
type keyFile struct {
	Version          int               `json:"version"`
	PublicKeyPackage string            `json:"public_key_package"`
	Shares           map[string]string `json:"shares"`
}

// Save writes the key material to the given path. The write is atomic:
// the content goes to a temporary file in the target directory, is fsynced,
// and is renamed over the target so that a crash never leaves a partially
// written key file behind.
func Save(
	path string,
	pkg *frost.PublicKeyPackage,
	shares []*frost.SigningShare,
) error {
	ciphersuite := frost.NewBip340Ciphersuite()

	file := &keyFile{
		Version:          latestVersion,
		PublicKeyPackage: hex.EncodeToString(pkg.Marshal(ciphersuite)),
		Shares:           make(map[string]string, len(shares)),
	}

	for _, share := range shares {
		key := fmt.Sprintf("%d", share.SignerIndex())
		if _, exists := file.Shares[key]; exists {
			return errors.Errorf(
				"duplicate share of signer [%d]",
				share.SignerIndex(),
			)
		}
		file.Shares[key] = hex.EncodeToString(share.Marshal())
	}

	encoded, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode the key file")
	}

	return atomicWrite(path, encoded)
}

// Load reads the key material from the given path. The shares are returned
// sorted in ascending order by the signer index.
func Load(path string) (*frost.PublicKeyPackage, []*frost.SigningShare, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot read the key file")
	}

	var file keyFile
	if err := json.Unmarshal(encoded, &file); err != nil {
		return nil, nil, errors.Wrapf(ErrCorrupt, "malformed JSON: %v", err)
	}

	if file.Version != latestVersion {
		return nil, nil, errors.Wrapf(
			ErrCorrupt,
			"unknown key file version [%d]",
			file.Version,
		)
	}

	ciphersuite := frost.NewBip340Ciphersuite()

	packageBytes, err := hex.DecodeString(file.PublicKeyPackage)
	if err != nil {
		return nil, nil, errors.Wrapf(
			ErrCorrupt,
			"malformed public key package hex: %v",
			err,
		)
	}

	pkg, err := frost.ParsePublicKeyPackage(ciphersuite, packageBytes)
	if err != nil {
		return nil, nil, errors.Wrapf(
			ErrCorrupt,
			"malformed public key package: %v",
			err,
		)
	}

	if len(file.Shares) != pkg.GroupSize() {
		return nil, nil, errors.Wrapf(
			ErrCorrupt,
			"expected [%d] shares, has [%d]",
			pkg.GroupSize(),
			len(file.Shares),
		)
	}

	shares := make([]*frost.SigningShare, 0, len(file.Shares))
	for key, shareHex := range file.Shares {
		shareBytes, err := hex.DecodeString(shareHex)
		if err != nil {
			return nil, nil, errors.Wrapf(
				ErrCorrupt,
				"malformed share hex of signer [%s]: %v",
				key,
				err,
			)
		}

		share, err := frost.ParseSigningShare(ciphersuite, shareBytes)
		if err != nil {
			return nil, nil, errors.Wrapf(
				ErrCorrupt,
				"malformed share of signer [%s]: %v",
				key,
				err,
			)
		}

		if key != fmt.Sprintf("%d", share.SignerIndex()) {
			return nil, nil, errors.Wrapf(
				ErrCorrupt,
				"share stored under key [%s] belongs to signer [%d]",
				key,
				share.SignerIndex(),
			)
		}

		// The share must match the verifying share recorded in the
		// public key package: sk_i * G == PK_i.
		if !pkg.IsConsistentShare(ciphersuite, share) {
			return nil, nil, errors.Wrapf(
				ErrCorrupt,
				"share of signer [%d] is inconsistent with the public key package",
				share.SignerIndex(),
			)
		}

		shares = append(shares, share)
	}

	slices.SortFunc(shares, func(a, b *frost.SigningShare) int {
		switch {
		case a.SignerIndex() < b.SignerIndex():
			return -1
		case a.SignerIndex() > b.SignerIndex():
			return 1
		default:
			return 0
		}
	})

	return pkg, shares, nil
}

// atomicWrite writes the content to a directory-local temporary file, syncs
// it to stable storage, and renames it over the target path.
func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "cannot create a temporary file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "cannot write the key file")
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "cannot sync the key file")
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "cannot close the key file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "cannot move the key file in place")
	}

	return nil
}
