// Package observability contains logging setup and metrics for gridlink
// nodes.
package observability

import (
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"

    "gridlink/pkg/config"
)

// SetupLogger builds the process logger: one core per configured output at a
// shared level, installed as zap's global with the stdlib log redirected.
// The caller should defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
    level, err := parseLevel(c.Level)
    if err != nil {
        return nil, err
    }
    enc := newEncoder(c)
    cores := make([]zapcore.Core, 0, len(c.Outputs))
    for _, out := range c.Outputs {
        ws, err := openSink(out, c.Rotation)
        if err != nil {
            return nil, err
        }
        cores = append(cores, zapcore.NewCore(enc, ws, level))
    }

    opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
    if c.Development {
        opts = append(opts, zap.Development())
    }
    logger := zap.New(zapcore.NewTee(cores...), opts...)
    zap.ReplaceGlobals(logger)
    _, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
    return logger, nil
}

func parseLevel(s string) (zapcore.Level, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "", "info":
        return zapcore.InfoLevel, nil
    case "warning":
        return zapcore.WarnLevel, nil
    }
    return zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

func newEncoder(c config.LogConfig) zapcore.Encoder {
    ec := zap.NewProductionEncoderConfig()
    if c.Development {
        ec = zap.NewDevelopmentEncoderConfig()
        ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
    }
    if strings.ToLower(c.Format) == "json" {
        return zapcore.NewJSONEncoder(ec)
    }
    return zapcore.NewConsoleEncoder(ec)
}

// openSink maps one configured output to a write syncer. Anything that is not
// stdout/stderr is a file path; with rotation enabled the file goes through
// lumberjack (the rotation filename, when set, wins over the output path).
func openSink(out string, r config.RotationConfig) (zapcore.WriteSyncer, error) {
    switch strings.ToLower(out) {
    case "stdout":
        return zapcore.AddSync(os.Stdout), nil
    case "stderr":
        return zapcore.AddSync(os.Stderr), nil
    }
    if r.Enable {
        name := out
        if strings.TrimSpace(r.Filename) != "" {
            name = r.Filename
        }
        return zapcore.AddSync(&lumberjack.Logger{
            Filename:   name,
            MaxSize:    r.MaxSizeMB,
            MaxBackups: r.MaxBackups,
            MaxAge:     r.MaxAgeDays,
            Compress:   r.Compress,
        }), nil
    }
    if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
        return nil, err
    }
    f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
    if err != nil {
        return nil, err
    }
    return zapcore.AddSync(f), nil
}
