package config

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/samv3/lib/util"
)

// WriteFile writes c as yaml to path. Existing files are only replaced
// when overwrite is set. The file may hold a private key and is created 0600.
func WriteFile(path string, c SAMConfig, overwrite bool) error {
	if !overwrite {
		if util.CheckFileExists(path) {
			return oops.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.Wrapf(err, "create config directory")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return oops.Wrapf(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Wrapf(err, "write config file %s", path)
	}
	log.WithField("file", path).Debug("wrote_config_file")
	return nil
}
