package logging

import "time"

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Strings returns a string slice field.
func Strings(key string, values []string) Field { return Field{Key: key, Value: values} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 returns a uint64 field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration records a duration in milliseconds so log processors can aggregate it.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key + "_ms", Value: float64(value) / float64(time.Millisecond)}
}

// Error returns an error field. Errors are rendered through their message.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}
