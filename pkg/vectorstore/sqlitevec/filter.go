// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlitevec

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/airweave/airweave-go/pkg/vectorstore"
)

// matchesFilter evaluates a filter conjunction against a stored payload
// without unmarshaling it.
func matchesFilter(payloadJSON string, f *vectorstore.Filter) bool {
	if f == nil || len(f.Must) == 0 {
		return true
	}
	for _, c := range f.Must {
		if !matchesCondition(payloadJSON, c) {
			return false
		}
	}
	return true
}

func matchesCondition(payloadJSON string, c vectorstore.Condition) bool {
	v := gjson.Get(payloadJSON, c.Field)
	if !v.Exists() {
		return false
	}

	switch {
	case c.Equals != nil:
		return valueEquals(v, c.Equals)
	case len(c.AnyOf) > 0:
		for _, want := range c.AnyOf {
			if valueEquals(v, want) {
				return true
			}
		}
		return false
	case c.GTE != nil || c.LTE != nil:
		if c.GTE != nil {
			cmp, ok := compareValues(v, c.GTE)
			if !ok || cmp < 0 {
				return false
			}
		}
		if c.LTE != nil {
			cmp, ok := compareValues(v, c.LTE)
			if !ok || cmp > 0 {
				return false
			}
		}
		return true
	}
	// A condition with no predicate only asserts field presence.
	return true
}

func valueEquals(v gjson.Result, want any) bool {
	switch w := want.(type) {
	case string:
		return v.Type == gjson.String && v.Str == w
	case bool:
		return v.IsBool() && v.Bool() == w
	case float64:
		return v.Type == gjson.Number && v.Num == w
	case int:
		return v.Type == gjson.Number && v.Num == float64(w)
	case int64:
		return v.Type == gjson.Number && v.Num == float64(w)
	default:
		return v.String() == fmt.Sprintf("%v", want)
	}
}

// compareValues orders the payload value against the condition operand:
// numerically for numbers, chronologically when the operand parses as a
// timestamp, lexically for plain strings.
func compareValues(v gjson.Result, want any) (int, bool) {
	switch w := want.(type) {
	case float64:
		return compareFloat(v, w)
	case int:
		return compareFloat(v, float64(w))
	case int64:
		return compareFloat(v, float64(w))
	case time.Time:
		vt, ok := parseTimeValue(v)
		if !ok {
			return 0, false
		}
		return vt.Compare(w), true
	case string:
		if wt, ok := parseTimeString(w); ok {
			vt, ok := parseTimeValue(v)
			if !ok {
				return 0, false
			}
			return vt.Compare(wt), true
		}
		if v.Type != gjson.String {
			return 0, false
		}
		return strings.Compare(v.Str, w), true
	default:
		return 0, false
	}
}

func compareFloat(v gjson.Result, w float64) (int, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}
	switch {
	case v.Num < w:
		return -1, true
	case v.Num > w:
		return 1, true
	default:
		return 0, true
	}
}

// payloadTime extracts a timestamp field for decay scoring.
func payloadTime(payloadJSON, field string) (time.Time, bool) {
	return parseTimeValue(gjson.Get(payloadJSON, field))
}

func parseTimeValue(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.String:
		return parseTimeString(v.Str)
	case gjson.Number:
		// Unix seconds, with fractional part preserved.
		sec := int64(v.Num)
		nsec := int64((v.Num - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	default:
		return time.Time{}, false
	}
}

func parseTimeString(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
