// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redacted は秘匿属性の値を置き換える文字列。
const redacted = "[REDACTED]"

// sensitiveKeys はログに値を残さない属性キー（小文字で比較）。
var sensitiveKeys = map[string]bool{
	"token":         true,
	"authorization": true,
	"api_key":       true,
	"jwt_secret":    true,
}

// ParseLevel はログレベル文字列(debug, info, warn, error)をslog.Levelに変換する。
// 不明な値はslog.LevelInfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はwへJSONで出力するslog.Loggerを生成する。
// sensitiveKeysに該当する属性は値を伏せて出力する。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSensitive,
	})
	return slog.New(handler)
}

// SetupDefault はSetupしたロガーをグローバルロガーに設定して返す。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}
