// Package sanitize coerces free-form text from a generative backend into a
// typed value.
//
// [Parse] runs a three-stage cascade: a strict decode of the raw text, a
// decode of the text after [Repair], and finally the caller's default. The
// caller always receives a structurally valid value, so nothing downstream
// has to special-case malformed output.
//
//	res := sanitize.Parse(raw, Reply{Text: "Sorry, try again."})
//	if res.UsedFallback {
//	    slog.Warn("backend returned garbage", "raw", res.Raw)
//	}
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Stage records which step of the cascade produced a [Result].
type Stage int

const (
	// StageDirect means the raw text parsed as-is.
	StageDirect Stage = iota

	// StageRepaired means the text parsed after [Repair].
	StageRepaired

	// StageFallback means the caller's default was returned.
	StageFallback
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageRepaired:
		return "repaired"
	case StageFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Validator is implemented by payload types that can check their own shape.
// A decoded value whose Validate returns an error fails its stage.
type Validator interface {
	Validate() error
}

// Filler is implemented by payload types that can complete a partially
// decoded value from the caller's default (e.g. a missing speakable line).
// Fill runs before Validate.
type Filler[T any] interface {
	Fill(def T) T
}

// Result is the outcome of [Parse].
type Result[T any] struct {
	// Value is the decoded value, or the default when UsedFallback is set.
	Value T

	// UsedFallback is true when neither the raw nor the repaired text produced
	// a valid value.
	UsedFallback bool

	// Stage is the cascade step that produced Value.
	Stage Stage

	// Raw is the unmodified input.
	Raw string

	// Err holds the last decode or validation error when UsedFallback is set.
	Err error
}

// ErrNotObject is returned when the text is valid JSON but not an object.
var ErrNotObject = errors.New("sanitize: payload is not a JSON object")

// Parse decodes raw into T, repairing it if needed and falling back to def.
// def should itself be valid; it is returned untouched on fallback.
func Parse[T any](raw string, def T) Result[T] {
	v, err := decode(raw, def)
	if err == nil {
		return Result[T]{Value: v, Stage: StageDirect, Raw: raw}
	}

	repaired := Repair(raw)
	if repaired != raw {
		v, rerr := decode(repaired, def)
		if rerr == nil {
			return Result[T]{Value: v, Stage: StageRepaired, Raw: raw}
		}
		err = rerr
	}

	return Result[T]{Value: def, UsedFallback: true, Stage: StageFallback, Raw: raw, Err: err}
}

func decode[T any](text string, def T) (T, error) {
	var zero T
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return zero, ErrNotObject
	}

	var v T
	if err := sonic.ConfigStd.UnmarshalFromString(text, &v); err != nil {
		return zero, fmt.Errorf("sanitize: decode: %w", err)
	}
	if f, ok := any(v).(Filler[T]); ok {
		v = f.Fill(def)
	}
	if val, ok := any(v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return zero, fmt.Errorf("sanitize: validate: %w", err)
		}
	}
	return v, nil
}

var (
	fenceOpen     = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	fenceClose    = regexp.MustCompile("\r?\n?```\\s*$")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)

	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
	)
)

// Repair applies, in order: strip a leading and trailing code fence, replace
// curly quotes with straight ones, replace control characters with a space,
// cut the text down to the span from the first '{' to the last '}', and drop
// trailing commas before '}' or ']'.
//
// Repair is purely textual and does not check that the result is valid JSON.
func Repair(raw string) string {
	s := strings.TrimSpace(raw)
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	s = quoteReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return trailingComma.ReplaceAllString(s, "$1")
}
