// Package dashboard holds the presentation rules shared by the terminal
// client and the HTTP API: file kinds, filter field catalogues, visible
// headers, merged date cells and colour hints.
package dashboard

import "strings"

// Kind is the scanner file family, detected from the file association name.
type Kind string

const (
	KindUnknown   Kind = ""
	KindTTScanner Kind = "TTScanner"
	KindFSOptions Kind = "FSOptions"
	KindMENTFib   Kind = "MENTFib"
)

// DetectKind returns the first known family token contained in name.
func DetectKind(name string) Kind {
	for _, k := range []Kind{KindTTScanner, KindFSOptions, KindMENTFib} {
		if strings.Contains(name, string(k)) {
			return k
		}
	}
	return KindUnknown
}
