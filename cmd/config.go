package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

type Config struct {
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=200"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`
	CensoredWords     string        `env:"CENSORED_WORDS"`
	CensorMask        string        `env:"CENSOR_MASK,default=*"`
}

// WordList splits the comma-separated censored word list from the
// environment. Empty entries are dropped; an empty list disables moderation.
func (c Config) WordList() []string {
	words := lo.Map(strings.Split(c.CensoredWords, ","), func(w string, _ int) string {
		return strings.TrimSpace(w)
	})
	return lo.Filter(words, func(w string, _ int) bool { return w != "" })
}

// MaskRune validates that the configured mask is a single character.
func (c Config) MaskRune() (rune, error) {
	r := []rune(c.CensorMask)
	if len(r) != 1 {
		return 0, fmt.Errorf("CENSOR_MASK must be a single character, got %q", c.CensorMask)
	}
	return r[0], nil
}
