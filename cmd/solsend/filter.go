package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/itchyny/gojq"
)

// eventFilter holds compiled jq filters. An event matches when every filter
// yields a truthy first result.
type eventFilter struct {
	codes  []*gojq.Code
	logger *slog.Logger
}

func newEventFilter(filters []string, logger *slog.Logger) (*eventFilter, error) {
	f := &eventFilter{logger: logger}
	for _, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
		f.codes = append(f.codes, code)
	}
	return f, nil
}

// Match reports whether the JSON document data passes every filter.
func (f *eventFilter) Match(data []byte) bool {
	if len(f.codes) == 0 {
		return true
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, code := range f.codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if err, isErr := v.(error); isErr {
			f.logger.Debug("jq filter error", "error", err)
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy follows jq's rule: only false and null are falsy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
