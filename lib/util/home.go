package util

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// UserHome returns the current user's home directory.
// Falls back to $HOME, then USERPROFILE, then the working directory, so
// the CLI still runs in containers without a passwd entry.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if home := os.Getenv(env); home != "" {
			log.WithError(err).WithField("env", env).Warn("user_home_from_environment")
			return home
		}
	}
	wd, wdErr := os.Getwd()
	if wdErr != nil {
		panic("samv3: unable to determine home directory; set $HOME")
	}
	log.WithError(err).Warn("user_home_from_working_directory")
	return wd
}
