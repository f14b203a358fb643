package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rexliu/bctl/pkg/config"
)

// New builds a zap logger named name. With cfg.FilePath set, JSON lines go to a
// size-rolled file; otherwise console output goes to stderr.
func New(name string, cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}

	var core zapcore.Core
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return nil, err
		}
		writer, err := newRollingFile(cfg.FilePath, cfg.FileMaxSize)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(writer), level)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	}
	return zap.New(core, zap.AddCaller()).Named(name), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

type rollingFile struct {
	mu   sync.Mutex
	path string
	max  int
	file *os.File
	open func(string) (*os.File, error)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func newRollingFile(path string, maxMB int) (*rollingFile, error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &rollingFile{path: path, max: maxMB, file: f, open: openAppend}, nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 {
		if info, err := r.file.Stat(); err == nil && info.Size()+int64(len(p)) > int64(r.max)*1024*1024 {
			r.rotate()
		}
	}
	return r.file.Write(p)
}

// rotate moves the current file to .1 and reopens path. On any failure the
// old handle stays in use.
func (r *rollingFile) rotate() {
	if err := os.Rename(r.path, r.path+".1"); err != nil {
		return
	}
	next, err := r.open(r.path)
	if err != nil {
		return
	}
	r.file.Close()
	r.file = next
}

func (r *rollingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Sync()
}
