package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (r *recordingCloser) Close() error {
	*r.order = append(*r.order, r.name)
	return r.err
}

func TestCloseAllReverseOrder(t *testing.T) {
	var order []string
	RegisterCloser(&recordingCloser{name: "session", order: &order})
	RegisterCloser(&recordingCloser{name: "conduit", order: &order, err: errors.New("boom")})
	RegisterCloser(nil)

	CloseAll()
	assert.Equal(t, []string{"conduit", "session"}, order)

	// The list is cleared.
	CloseAll()
	assert.Len(t, order, 2)
}

func TestCheckFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	assert.False(t, CheckFileExists(path))
	assert.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.True(t, CheckFileExists(path))
}

func TestUserHomeFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	assert.NotEmpty(t, UserHome())
}
