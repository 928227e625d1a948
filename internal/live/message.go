package live

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"scanwatch/internal/scan"
)

// ErrMalformed marks a push payload that could not be decoded.
var ErrMalformed = errors.New("live: malformed message")

// Message is a full row snapshot pushed for a source.
type Message struct {
	Source  scan.SourceID
	Version int64
	Rows    []scan.Row
}

// RowSet converts the message into a row set.
func (m Message) RowSet() scan.RowSet {
	return scan.RowSet{Source: m.Source, Version: m.Version, Rows: m.Rows}
}

// ParseMessage decodes a push payload of the form
//
//	{"data_version": 5, "rows": [...]}
//
// "version" is accepted in place of "data_version". The payload may name its
// source with "file_association_id" or "source"; otherwise the channel's
// source is assumed.
func ParseMessage(channel scan.SourceID, data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: payload is %s, not an object", ErrMalformed, root.Type)
	}

	ver := root.Get("data_version")
	if !ver.Exists() {
		ver = root.Get("version")
	}
	if ver.Type != gjson.Number {
		return Message{}, fmt.Errorf("%w: missing numeric version", ErrMalformed)
	}

	rowsRes := root.Get("rows")
	if !rowsRes.Exists() {
		return Message{}, fmt.Errorf("%w: missing rows", ErrMalformed)
	}
	rows, err := scan.RowsFromResult(rowsRes)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{Source: channel, Version: ver.Int(), Rows: rows}
	for _, k := range []string{"file_association_id", "source"} {
		if s := root.Get(k); s.Exists() && s.Type != gjson.Null && s.String() != "" {
			msg.Source = scan.SourceID(s.String())
			break
		}
	}
	return msg, nil
}
