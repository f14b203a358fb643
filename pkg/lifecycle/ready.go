package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// ReadyFDEnv names the inherited descriptor a launched daemon reports readiness on.
const ReadyFDEnv = "BCTL_READY_FD"

type readyMessage struct {
	Ready bool   `json:"ready,omitempty"`
	Error string `json:"error,omitempty"`
}

// Notifier is the daemon's end of the readiness channel. The zero of
// *Notifier (nil) is valid and ignores every call.
type Notifier struct {
	once sync.Once
	f    *os.File
}

// NotifierFromEnv opens the descriptor named by ReadyFDEnv, or returns nil
// when the daemon was not started by a launcher.
func NotifierFromEnv() *Notifier {
	raw := os.Getenv(ReadyFDEnv)
	if raw == "" {
		return nil
	}
	fd, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	os.Unsetenv(ReadyFDEnv)
	f := os.NewFile(uintptr(fd), "ready")
	if f == nil {
		return nil
	}
	return &Notifier{f: f}
}

// Launched reports whether a launcher is waiting on this notifier.
func (n *Notifier) Launched() bool { return n != nil }

// Ready sends {"ready":true}. Only the first Ready or Fail is delivered.
func (n *Notifier) Ready() error {
	return n.send(readyMessage{Ready: true})
}

// Fail sends {"error": err}.
func (n *Notifier) Fail(err error) error {
	return n.send(readyMessage{Error: err.Error()})
}

func (n *Notifier) send(msg readyMessage) error {
	if n == nil {
		return nil
	}
	var err error
	n.once.Do(func() {
		err = json.NewEncoder(n.f).Encode(msg)
		if cerr := n.f.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// awaitReady blocks until the child reports on r, r reaches EOF, timeout
// elapses or ctx ends. r is closed on return.
func awaitReady(ctx context.Context, r io.ReadCloser, timeout time.Duration) error {
	defer r.Close()
	result := make(chan error, 1)
	go func() {
		var msg readyMessage
		if err := json.NewDecoder(r).Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				result <- errors.New("daemon exited before signalling readiness")
				return
			}
			result <- fmt.Errorf("read readiness: %w", err)
			return
		}
		switch {
		case msg.Error != "":
			result <- fmt.Errorf("daemon failed to start: %s", msg.Error)
		case msg.Ready:
			result <- nil
		default:
			result <- errors.New("daemon sent an empty readiness message")
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("daemon not ready after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
