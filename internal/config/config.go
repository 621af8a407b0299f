package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	listenAddr = ":4001"
	baseURL    = "http://localhost:4001"

	redisURL = ""
	pgDSN    = ""

	tokenTTL = 6 * time.Hour

	chunkSize       int64 = 512 << 10 // origin chunk size, clamped to [256 KiB, 1 MiB]
	outputChunkSize int64 = 256 << 10
	historyLimit    int64 = 2000

	botAPIURL = "https://api.telegram.org"
	botToken  = ""

	adminIDs []int64

	// logging
	logFilePath   = "debug.log"
	logAllowRegex = `^\[(init|boot|http|token|stream|store|pay|janitor|stats)\]`
	logDenyRegex  = `Broken pipe|connection reset by peer`
	logDedupWin   = 3 * time.Second
)

func Load() {
	listenAddr = getenv("LISTEN", listenAddr)
	baseURL = strings.TrimRight(getenv("BASE_URL", baseURL), "/")

	redisURL = getenv("REDIS_URL", redisURL)
	pgDSN = getenv("PG_DSN", pgDSN)

	if s := getenvInt64("TOKEN_TTL_SECONDS", 0); s > 0 {
		tokenTTL = time.Duration(s) * time.Second
	}

	chunkSize = getenvInt64("CHUNK_SIZE", chunkSize)
	if chunkSize < 256<<10 {
		chunkSize = 256 << 10
	}
	if chunkSize > 1<<20 {
		chunkSize = 1 << 20
	}
	outputChunkSize = getenvInt64("OUTPUT_CHUNK_SIZE", outputChunkSize)
	if outputChunkSize <= 0 {
		outputChunkSize = 256 << 10
	}
	historyLimit = getenvInt64("HISTORY_LIMIT", historyLimit)

	botAPIURL = strings.TrimRight(getenv("BOT_API_URL", botAPIURL), "/")
	botToken = getenv("BOT_TOKEN", botToken)

	adminIDs = adminIDs[:0]
	for _, part := range strings.Split(getenv("ADMIN_IDS", ""), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			adminIDs = append(adminIDs, id)
		}
	}

	logFilePath = getenv("LOG_FILE", logFilePath)
	logAllowRegex = getenv("LOG_ALLOW", logAllowRegex)
	logDenyRegex = getenv("LOG_DENY", logDenyRegex)
	logDedupWin = getenvDuration("LOG_DEDUP_WINDOW", logDedupWin)
}

// getters
func ListenAddr() string              { return listenAddr }
func BaseURL() string                 { return baseURL }
func RedisURL() string                { return redisURL }
func PGDSN() string                   { return pgDSN }
func TokenTTL() time.Duration         { return tokenTTL }
func ChunkSize() int64                { return chunkSize }
func OutputChunkSize() int64          { return outputChunkSize }
func HistoryLimit() int64             { return historyLimit }
func BotAPIURL() string               { return botAPIURL }
func BotToken() string                { return botToken }
func AdminIDs() []int64               { return adminIDs }
func LogFilePath() string             { return logFilePath }
func LogAllowRegex() string           { return logAllowRegex }
func LogDenyRegex() string            { return logDenyRegex }
func LogDedupWindow() time.Duration   { return logDedupWin }

// helpers
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getenvInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
