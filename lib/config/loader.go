package config

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/spf13/viper"

	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/util"
)

const (
	// SAMV3_BASE_DIR is the per-user directory below $HOME.
	SAMV3_BASE_DIR = ".samv3"
	// EnvPrefix prefixes environment overrides: SAMV3_SAM_HOST sets sam.host.
	EnvPrefix = "SAMV3"
)

// Prepare configures v with defaults, the config file at path (or the
// default location when empty) and environment overrides.
func Prepare(v *viper.Viper, path string) error {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(BuildConfigDirPath())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return handleConfigFile(v, path)
}

func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("session.id", d.Session.ID)
	v.SetDefault("session.options", d.Session.Options)

	v.SetDefault("stream.destination", d.Stream.Destination)

	v.SetDefault("forward.host", d.Forward.Host)
	v.SetDefault("forward.port", d.Forward.Port)
	v.SetDefault("forward.silent", d.Forward.Silent)

	v.SetDefault("listen.address", d.Listen.Address)
	v.SetDefault("listen.port", d.Listen.Port)
	v.SetDefault("listen.host_forward", d.Listen.HostForward)
	v.SetDefault("listen.port_forward", d.Listen.PortForward)

	v.SetDefault("sam.host", d.SAM.Host)
	v.SetDefault("sam.port_tcp", d.SAM.PortTCP)
	v.SetDefault("sam.port_udp", d.SAM.PortUDP)
	v.SetDefault("sam.version_min", d.SAM.VersionMin)
	v.SetDefault("sam.version_max", d.SAM.VersionMax)
	v.SetDefault("sam.public_key", d.SAM.PublicKey)
	v.SetDefault("sam.private_key", d.SAM.PrivateKey)
	v.SetDefault("sam.signature_type", d.SAM.SignatureType)
	v.SetDefault("sam.timeout", d.SAM.Timeout)

	v.SetDefault("datagram.min_length", d.Datagram.MinLength)
	v.SetDefault("datagram.max_length", d.Datagram.MaxLength)
	v.SetDefault("datagram.encoding", d.Datagram.Encoding)
	v.SetDefault("datagram.send_rate", d.Datagram.SendRate)
	v.SetDefault("datagram.send_burst", d.Datagram.SendBurst)
}

func handleConfigFile(v *viper.Viper, path string) error {
	err := v.ReadInConfig()
	if err == nil {
		log.WithFields(logger.Fields{
			"at":   "config.handleConfigFile",
			"file": v.ConfigFileUsed(),
		}).Debug("using_config_file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && path == "" {
		log.WithFields(logger.Fields{
			"at":  "config.handleConfigFile",
			"dir": BuildConfigDirPath(),
		}).Debug("no_config_file_using_defaults")
		return nil
	}
	return protocol.NewConfigurationError("CONFIG", err, "read config file")
}

// FromViper decodes v into a normalized, validated SAMConfig.
func FromViper(v *viper.Viper) (SAMConfig, error) {
	var c SAMConfig
	if err := v.Unmarshal(&c); err != nil {
		return SAMConfig{}, protocol.NewConfigurationError("CONFIG", err, "decode configuration")
	}
	c = c.Normalize()
	if err := c.Validate(); err != nil {
		return SAMConfig{}, err
	}
	return c, nil
}

// BuildConfigDirPath returns $HOME/.samv3.
func BuildConfigDirPath() string {
	return filepath.Join(util.UserHome(), SAMV3_BASE_DIR)
}

// DefaultConfigFile returns $HOME/.samv3/config.yaml.
func DefaultConfigFile() string {
	return filepath.Join(BuildConfigDirPath(), "config.yaml")
}
