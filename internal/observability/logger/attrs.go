package logger

import "log/slog"

// Shared attribute constructors so the same keys come out of every
// package.

func Tenant(tenant string) slog.Attr {
	return slog.String("tenant", tenant)
}

func User(name string) slog.Attr {
	return slog.String("user", name)
}

func Permission(spec string) slog.Attr {
	return slog.String("permission", spec)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
