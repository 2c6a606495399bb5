package http

import "strings"

// containsFieldMsg reports whether list has an error on field whose message
// contains substr.
func containsFieldMsg(list []FieldError, field, substr string) bool {
	for _, e := range list {
		if e.Field == field && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
