package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value of the key.
const PresencePlaceholder = "<<PRESENCE>>"

// JSONAssertOptions control how documents are compared.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys absent from the expected document.
	IgnoreExtraKeys bool `default:"true"`
	// IgnoredFields are removed from both documents at any depth.
	IgnoredFields []string
}

// JSONOption is a functional option for configuring JSONAsserter
type JSONOption func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a readable
// diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.options)
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertLines compares JSON lines output, one document per line, against an
// expected JSON array.
func (ja *JSONAsserter) AssertLines(actualLines, expectedJSON string) bool {
	var docs []string
	for _, line := range strings.Split(strings.TrimSpace(actualLines), "\n") {
		if strings.TrimSpace(line) != "" {
			docs = append(docs, line)
		}
	}
	return ja.Assert("["+strings.Join(docs, ",")+"]", expectedJSON)
}

// Diff returns a description of the differences, empty when the documents
// match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v\n%s", err, actualJSON)
	}

	// gojsondiff compares objects only
	expected = map[string]any{"document": expected}
	actual = map[string]any{"document": actual}

	for _, field := range ja.options.IgnoredFields {
		removeField(expected, field)
		removeField(actual, field)
	}
	alignExpected(expected, actual, ja.options.IgnoreExtraKeys)

	left, _ := json.Marshal(expected)
	right, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, err := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	}).Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON diff formatting failed: %v", err)
	}
	return out
}

// alignExpected resolves presence placeholders and, when pruning, removes
// actual keys the expected document does not mention.
func alignExpected(expected, actual any, prune bool) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		if prune {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
		for k, v := range exp {
			if v == PresencePlaceholder {
				if av, ok := act[k]; ok {
					exp[k] = av
				}
				continue
			}
			alignExpected(v, act[k], prune)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i >= len(act) {
				return
			}
			if exp[i] == PresencePlaceholder {
				exp[i] = act[i]
				continue
			}
			alignExpected(exp[i], act[i], prune)
		}
	}
}

func removeField(doc any, field string) {
	switch v := doc.(type) {
	case map[string]any:
		delete(v, field)
		for _, child := range v {
			removeField(child, field)
		}
	case []any:
		for _, child := range v {
			removeField(child, field)
		}
	}
}

// WithIgnoreExtraKeys sets whether keys missing from the expected document
// are ignored.
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoredFields removes fields from both documents before comparing.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}
