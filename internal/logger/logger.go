// Package logger はJSON構造化ログと監査ログの出力を提供する。
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// AuditMessage は監査ログのmsgフィールドに固定で出力する値。
// ログ基盤側ではmsg="audit"で抽出する。
const AuditMessage = "audit"

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

// ParseLevel はLOG_LEVELの文字列をslog.Levelに変換する。
// 未知の値はINFOとして扱う。
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

// Audit は監査イベントを1行出力する。
// eventには "auth_login" のような固定のイベント名を渡す。
func Audit(ctx context.Context, l *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(ctx, level, AuditMessage, append([]slog.Attr{slog.String("event", event)}, attrs...)...)
}
