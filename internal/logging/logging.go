package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Dev     bool
	Dir     string
	Cluster string
}

// New builds the process logger. When a cluster name and directory are set,
// entries are also written to <dir>/cluster-<name>.log with rotation.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	encCfg := zap.NewProductionEncoderConfig()
	if opts.Dev {
		level.SetLevel(zap.DebugLevel)
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	if opts.Dev {
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	if opts.Dir != "" && opts.Cluster != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}

		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, FileName(opts.Cluster)),
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	if opts.Cluster != "" {
		log = log.With(zap.String("cluster", opts.Cluster))
	}

	return log.Sugar(), nil
}

func FileName(cluster string) string {
	return "cluster-" + cluster + ".log"
}
