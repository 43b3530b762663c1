package cli

import (
	"fmt"
	"strconv"
	"time"
)

// Optional is a flag.Value that records whether it was set, so config file
// values are only overridden by flags the user actually passed. Use the
// constructors; the zero value has no parser.
type Optional[T any] struct {
	value  T
	set    bool
	parse  func(string) (T, error)
	format func(T) string
}

func newOptional[T any](parse func(string) (T, error), format func(T) string) *Optional[T] {
	return &Optional[T]{parse: parse, format: format}
}

// NewDuration returns an unset duration flag.
func NewDuration() *Optional[time.Duration] {
	return newOptional(time.ParseDuration, time.Duration.String)
}

// NewInt returns an unset int flag.
func NewInt() *Optional[int] {
	return newOptional(strconv.Atoi, strconv.Itoa)
}

// NewString returns an unset string flag.
func NewString() *Optional[string] {
	return newOptional(
		func(s string) (string, error) { return s, nil },
		func(v string) string { return v },
	)
}

func (o *Optional[T]) Set(s string) error {
	if o.parse == nil {
		return fmt.Errorf("optional flag has no parser")
	}
	v, err := o.parse(s)
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *Optional[T]) String() string {
	if o == nil || !o.set || o.format == nil {
		return ""
	}
	return o.format(o.value)
}

func (o *Optional[T]) Value() (T, bool) {
	return o.value, o.set
}

// Ptr returns the value, or nil when the flag was not given.
func (o *Optional[T]) Ptr() *T {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

// OptionalBool is a boolean Optional usable as "-flag" without a value.
type OptionalBool struct {
	Optional[bool]
}

// NewBool returns an unset bool flag.
func NewBool() *OptionalBool {
	return &OptionalBool{Optional: Optional[bool]{parse: strconv.ParseBool, format: strconv.FormatBool}}
}

func (o *OptionalBool) IsBoolFlag() bool {
	return true
}
