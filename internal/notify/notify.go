package notify

import (
	"sort"
	"strings"

	"github.com/yanun0323/logs"
)

// Level grades an alert.
type Level uint16

const (
	LevelInfo Level = iota
	LevelWarn
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelCritical:
		return "critical"
	default:
		return "info"
	}
}

// Notifier is the alert seam. Reconciliation findings and breaker
// transitions publish through it; fan-out to real channels plugs in here.
type Notifier interface {
	Alert(level Level, msg string, fields map[string]string)
}

// Log is the default Notifier, writing alerts to the process log.
type Log struct{}

func NewLog() Log { return Log{} }

func (Log) Alert(level Level, msg string, fields map[string]string) {
	line := msg
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+fields[k])
		}
		line += " (" + strings.Join(parts, " ") + ")"
	}

	switch level {
	case LevelCritical:
		logs.Errorf("ALERT %s", line)
	case LevelWarn:
		logs.Warnf("ALERT %s", line)
	default:
		logs.Infof("ALERT %s", line)
	}
}
