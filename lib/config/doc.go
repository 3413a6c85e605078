// Package config provides the configuration of a SAM client.
//
// A SAMConfig is a plain value. Zero fields are filled in by Normalize with
// the defaults of this package and port numbers are clamped to
// 1025..65535, where 0 keeps meaning "unset".
//
// # Sources
//
// Callers may build a SAMConfig in code or load it with Prepare and FromViper,
// which merge, in increasing priority:
//   - the defaults returned by Defaults
//   - a yaml file, $HOME/.samv3/config.yaml unless another path is given
//   - SAMV3_* environment variables, e.g. SAMV3_SAM_HOST
//   - command line flags bound with viper.BindPFlag
//
// WriteFile writes the defaults as a yaml template, used by
// "samv3 config init".
package config
