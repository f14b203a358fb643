package lifecycle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileExclusiveCreate(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "run", "default.pid"))
	require.NoError(t, p.Create(os.Getpid(), time.Minute))

	err := p.Create(os.Getpid()+1, time.Minute)
	require.ErrorIs(t, err, ErrLocked)

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPIDFilePlaceholder(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "default.pid"))
	require.NoError(t, p.Create(0, time.Minute))

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Zero(t, pid)

	// a fresh placeholder means a launch is in flight
	require.ErrorIs(t, p.Create(0, time.Minute), ErrLocked)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p.Path(), old, old))
	require.NoError(t, p.Create(42, time.Minute))
	pid, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestPIDFileRecoversGarbage(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "default.pid"))
	require.NoError(t, os.WriteFile(p.Path(), []byte("not-a-pid"), 0o600))
	_, err := p.Read()
	require.Error(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p.Path(), old, old))
	require.NoError(t, p.Create(os.Getpid(), time.Minute))
}

func TestPIDFileClaim(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "default.pid"))
	me := os.Getpid()

	// launched: the launcher reserved the file, the daemon overwrites it
	require.NoError(t, p.Create(0, time.Minute))
	require.NoError(t, p.Claim(me, true, time.Minute))
	pid, _ := p.Read()
	assert.Equal(t, me, pid)

	// foreground: claiming a file that already names us succeeds
	require.NoError(t, p.Claim(me, false, time.Minute))

	require.NoError(t, p.RemoveIfOwner(me+1))
	_, err := os.Stat(p.Path())
	require.NoError(t, err)
	require.NoError(t, p.RemoveIfOwner(me))
	_, err = os.Stat(p.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, p.Remove())
}
