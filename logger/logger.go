// Package logger 负责初始化全局日志输出。
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog 输出（控制台格式，带时间戳）。
// level 可取 debug/info/warn/error，空值或无法识别时按 info 处理。
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	}
	log.Logger = zerolog.New(writer).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
