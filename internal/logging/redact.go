package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redactedValue = "[REDACTED]"

// RedactedString creates a field that records only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder and masks sensitive keys and values.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	return e.keys[strings.ToLower(key)]
}

func (e *RedactingEncoder) sensitiveValue(val string) bool {
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return true
		}
	}
	return false
}

// redactField rewrites a single field passed at the call site.
func (e *RedactingEncoder) redactField(f zapcore.Field) zapcore.Field {
	if e.sensitiveKey(f.Key) {
		return zap.String(f.Key, redactedValue)
	}
	if f.Type == zapcore.StringType && e.sensitiveValue(f.String) {
		return zap.String(f.Key, "[REDACTED:pattern]")
	}
	return f
}

// EncodeEntry redacts call-site fields, which bypass the Add* methods below.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if len(e.keys) == 0 && len(e.patterns) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	cleaned := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		cleaned[i] = e.redactField(f)
	}
	return e.Encoder.EncodeEntry(ent, cleaned)
}

// AddString covers fields attached with Logger.With.
func (e *RedactingEncoder) AddString(key, val string) {
	switch {
	case e.sensitiveKey(key):
		e.Encoder.AddString(key, redactedValue)
	case e.sensitiveValue(val):
		e.Encoder.AddString(key, "[REDACTED:pattern]")
	default:
		e.Encoder.AddString(key, val)
	}
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone keeps the redaction rules on child encoders.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}
