package logger

import (
	"log/slog"
	"time"
)

var (
	String = slog.String
	Int    = slog.Int
	Int64  = slog.Int64
	Bool   = slog.Bool
)

// Duration logs d as text such as "1.5ms".
func Duration(key string, d time.Duration) slog.Attr {
	return slog.String(key, d.String())
}

func ErrorField(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Component tags records with the package emitting them: gate, docdb,
// catalog, api or cli.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Table(name string) slog.Attr {
	return slog.String("table", name)
}
