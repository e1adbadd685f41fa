package log

import "time"

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Str constructs a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int constructs an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 constructs an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint32 constructs a uint32 field.
func Uint32(key string, value uint32) Field { return Field{Key: key, Value: value} }

// Bool constructs a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration constructs a duration field.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Err constructs an "error" field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Component tags the entry with a component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Any constructs a field with an arbitrary value.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }
