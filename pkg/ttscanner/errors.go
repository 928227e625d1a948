package ttscanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// GeneralField collects errors that are not tied to a request field.
const GeneralField = "general"

// APIError is a failed backend call with its error body normalised into
// field → messages. Status 0 means the request never got a response.
type APIError struct {
	Status int
	Fields map[string][]string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("ttscanner: %s", e.Message())
	}
	return fmt.Sprintf("ttscanner: status %d: %s", e.Status, e.Message())
}

func (e *APIError) Unwrap() error { return e.Err }

// Message returns a single display-ready line: the general messages when
// present, otherwise "field: message" pairs in field order.
func (e *APIError) Message() string {
	if msgs := e.Fields[GeneralField]; len(msgs) > 0 {
		return strings.Join(msgs, " ")
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	if len(parts) == 0 {
		return "Something went wrong"
	}
	return strings.Join(parts, "; ")
}

// Temporary reports whether retrying might succeed.
func (e *APIError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// NormalizeError builds an APIError from a non-2xx response. Bodies with
// "non_field_errors" or "detail" map onto the general field; other object
// bodies map each key to its message list.
func NormalizeError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Fields: map[string][]string{}}
	if !gjson.ValidBytes(body) {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
			e.Fields[GeneralField] = []string{s}
		} else {
			e.Fields[GeneralField] = []string{"Something went wrong"}
		}
		return e
	}

	root := gjson.ParseBytes(body)
	if nfe := root.Get("non_field_errors"); nfe.Exists() {
		e.Fields[GeneralField] = messages(nfe)
		return e
	}
	if d := root.Get("detail"); d.Exists() {
		e.Fields[GeneralField] = []string{d.String()}
		return e
	}
	if !root.IsObject() {
		e.Fields[GeneralField] = messages(root)
		return e
	}
	root.ForEach(func(k, v gjson.Result) bool {
		e.Fields[k.String()] = messages(v)
		return true
	})
	if len(e.Fields) == 0 {
		e.Fields[GeneralField] = []string{"Something went wrong"}
	}
	return e
}

func messages(v gjson.Result) []string {
	if v.IsArray() {
		var out []string
		for _, m := range v.Array() {
			out = append(out, m.String())
		}
		return out
	}
	return []string{v.String()}
}

func networkError(err error) *APIError {
	return &APIError{
		Fields: map[string][]string{GeneralField: {"Network error, please try again"}},
		Err:    err,
	}
}
