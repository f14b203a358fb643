package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLocked means another live daemon (or an in-progress launch) holds the PID file.
	ErrLocked = errors.New("daemon already running")
	// ErrNotRunning is returned by Stop when no live daemon is recorded.
	ErrNotRunning = errors.New("daemon not running")
)

// PIDFile is an exclusive-create lock file holding the daemon's PID.
// An empty file marks a launch in progress.
type PIDFile struct {
	path string
}

// NewPIDFile wraps path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// Read parses the recorded PID. An empty file yields 0 and no error.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(strings.SplitN(text, "\n", 2)[0])
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", p.path, text)
	}
	return pid, nil
}

// Create writes pid (or an empty placeholder when pid is 0) with fail-if-exists
// semantics. An existing file is overwritten only when stale: its PID is dead,
// or it is unparseable or empty and older than staleAfter.
func (p *PIDFile) Create(pid int, staleAfter time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	err := p.createExclusive(pid)
	if err == nil || !errors.Is(err, os.ErrExist) {
		return err
	}
	stale, reason := p.stale(staleAfter)
	if !stale {
		return fmt.Errorf("%w: %s", ErrLocked, reason)
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale pid file (%s): %w", reason, err)
	}
	if err := p.createExclusive(pid); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: lost race recreating pid file", ErrLocked)
		}
		return err
	}
	return nil
}

func (p *PIDFile) createExclusive(pid int) error {
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if pid > 0 {
		if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
			f.Close()
			os.Remove(p.path)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *PIDFile) stale(staleAfter time.Duration) (bool, string) {
	pid, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return true, "pid file vanished"
	}
	if err != nil || pid == 0 {
		info, statErr := os.Stat(p.path)
		if statErr != nil {
			return true, "cannot stat pid file"
		}
		if age := time.Since(info.ModTime()); age > staleAfter {
			return true, fmt.Sprintf("placeholder pid file is %s old", age.Round(time.Second))
		}
		return false, "daemon launch in progress"
	}
	if !processAlive(pid) {
		return true, fmt.Sprintf("process %d is not running", pid)
	}
	return false, fmt.Sprintf("process %d is running", pid)
}

// Write overwrites the file with pid. The launcher uses it after spawning.
func (p *PIDFile) Write(pid int) error {
	return os.WriteFile(p.path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// Claim records pid as the owner. A launched daemon overwrites the file its
// launcher reserved; a foreground daemon must win the exclusive create.
func (p *PIDFile) Claim(pid int, launched bool, staleAfter time.Duration) error {
	if launched {
		return p.Write(pid)
	}
	err := p.Create(pid, staleAfter)
	if errors.Is(err, ErrLocked) {
		if current, rerr := p.Read(); rerr == nil && current == pid {
			return nil
		}
	}
	return err
}

// Remove deletes the file if present.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveIfOwner deletes the file only while it still records pid.
func (p *PIDFile) RemoveIfOwner(pid int) error {
	current, err := p.Read()
	if err != nil || current != pid {
		return nil
	}
	return p.Remove()
}
