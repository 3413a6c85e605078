package identity

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Key files are small YAML documents:
//
//	public: <base64 destination>
//	private: <base64 private destination>
//
// Files are written with 0600 permissions, parent directories with 0700.

// SaveKeyFile writes d to path, creating parent directories as needed.
func SaveKeyFile(path string, d Destination) error {
	log.WithFields(logger.Fields{
		"at":   "identity.SaveKeyFile",
		"path": path,
	}).Debug("storing_destination_keys")

	if d.IsTransient() {
		return oops.Errorf("refusing to store an empty keypair")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Wrapf(err, "failed to create key directory")
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return oops.Wrapf(err, "failed to marshal destination keys")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Wrapf(err, "failed to write key file %s", path)
	}
	return nil
}

// LoadKeyFile reads a keypair written by SaveKeyFile.
func LoadKeyFile(path string) (Destination, error) {
	var d Destination
	data, err := os.ReadFile(path)
	if err != nil {
		return d, oops.Wrapf(err, "failed to read key file %s", path)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, oops.Wrapf(err, "failed to parse key file %s", path)
	}
	if d.IsTransient() {
		return d, oops.Errorf("key file %s holds no keys", path)
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// LoadOrCreateKeyFile loads the keypair at path. Only when the file does not
// exist is generate called and its result stored; a file that exists but
// cannot be read is an error, so an identity is never silently replaced.
func LoadOrCreateKeyFile(path string, generate func() (Destination, error)) (Destination, error) {
	d, err := LoadKeyFile(path)
	if err == nil {
		return d, nil
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		return Destination{}, err
	}

	log.WithFields(logger.Fields{
		"at":   "identity.LoadOrCreateKeyFile",
		"path": path,
	}).Info("generating_new_destination")

	d, err = generate()
	if err != nil {
		return Destination{}, err
	}
	if err := SaveKeyFile(path, d); err != nil {
		return Destination{}, err
	}
	return d, nil
}
