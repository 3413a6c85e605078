package session

import (
	"context"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/control"
	"github.com/go-i2p/samv3/lib/identity"
)

// LocalDestination is a freshly generated keypair and its address.
type LocalDestination struct {
	identity.Destination
	Address string
}

// CreateLocalDestination asks the bridge for a new keypair and closes the
// connection again. The whole exchange runs under sam.timeout.
func CreateLocalDestination(ctx context.Context, cfg config.SAMConfig) (LocalDestination, error) {
	cfg.SAM.PublicKey, cfg.SAM.PrivateKey = "", ""
	e, err := New(cfg)
	if err != nil {
		return LocalDestination{}, err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TimeoutDuration())
	defer cancel()
	if err := e.Open(ctx); err != nil {
		return LocalDestination{}, err
	}
	dest := e.Destination()
	addr, err := dest.B32Address()
	if err != nil {
		return LocalDestination{}, err
	}
	return LocalDestination{Destination: dest, Address: addr}, nil
}

// LookupName resolves name on a short-lived control connection without
// creating a session.
func LookupName(ctx context.Context, cfg config.SAMConfig, name string) (string, error) {
	cfg = cfg.Normalize()
	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	ch, err := control.Dial(ctx, cfg.TCPAddr())
	if err != nil {
		return "", err
	}
	defer ch.Close()
	if err := ch.Hello(ctx, cfg.SAM.VersionMin, cfg.SAM.VersionMax); err != nil {
		return "", err
	}
	return ch.Lookup(ctx, name)
}
