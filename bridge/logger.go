//  logger.go
//  ZoneClient Bridge
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Forwards the zone client's zap entries to a host-provided sink so they
//  land in the app's own log.

package bridge

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relativeprotocol/zoneclient/log"
)

// LogSink receives formatted log lines from the zone client.
type LogSink interface {
	Log(level string, message string)
}

const defaultLogLevel = "info"

// SetLogSink routes the process logger to sink at level and above. A nil
// sink reverts to zap's production logger.
func SetLogSink(sink LogSink, level string) error {
	if sink == nil {
		log.SetLogger(zap.Must(zap.NewProduction()))
		return nil
	}

	if level == "" {
		level = defaultLogLevel
	}
	minLevel, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}

	core := &sinkCore{
		sink:     sink,
		minLevel: minLevel,
		context:  map[string]any{},
	}
	log.SetLogger(zap.New(core, zap.AddCaller()))
	return nil
}

// sinkCore keeps accumulated context fields encoded so With chains do not
// re-encode them on every entry.
type sinkCore struct {
	sink     LogSink
	minLevel zapcore.Level
	context  map[string]any
}

func (c *sinkCore) Enabled(level zapcore.Level) bool {
	return level >= c.minLevel
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	context := make(map[string]any, len(c.context)+len(fields))
	for k, v := range c.context {
		context[k] = v
	}
	enc := &zapcore.MapObjectEncoder{Fields: context}
	for _, field := range fields {
		field.AddTo(enc)
	}
	return &sinkCore{
		sink:     c.sink,
		minLevel: c.minLevel,
		context:  context,
	}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	values := c.context
	if len(fields) > 0 {
		values = make(map[string]any, len(c.context)+len(fields))
		for k, v := range c.context {
			values[k] = v
		}
		enc := &zapcore.MapObjectEncoder{Fields: values}
		for _, field := range fields {
			field.AddTo(enc)
		}
	}
	c.sink.Log(ent.Level.String(), formatEntry(ent, values))
	return nil
}

func (c *sinkCore) Sync() error { return nil }

// formatEntry renders "name: message [k=v ...] (file:line)" with keys sorted.
func formatEntry(ent zapcore.Entry, values map[string]any) string {
	var b strings.Builder
	if ent.LoggerName != "" {
		b.WriteString(ent.LoggerName)
		b.WriteString(": ")
	}
	message := strings.TrimSpace(ent.Message)
	if message == "" {
		message = ent.Level.String()
	}
	b.WriteString(message)

	if len(values) > 0 {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(key)
			b.WriteByte('=')
			b.WriteString(formatValue(values[key]))
		}
		b.WriteByte(']')
	}
	if ent.Caller.Defined {
		b.WriteString(" (")
		b.WriteString(ent.Caller.TrimmedPath())
		b.WriteByte(')')
	}
	return b.String()
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
