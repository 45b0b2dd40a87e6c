package index

import (
	"fmt"
	"strings"
)

// Field identifies an indexed text field of a Document.
type Field uint8

const (
	FieldTitle Field = iota
	FieldBody
)

// NumFields is the number of indexed fields.
const NumFields = 2

// Fields lists every indexed field in scoring order.
var Fields = [NumFields]Field{FieldTitle, FieldBody}

func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "title"
	case FieldBody:
		return "body"
	default:
		return fmt.Sprintf("field(%d)", uint8(f))
	}
}

// ParseField parses "title" or "body".
func ParseField(name string) (Field, error) {
	switch name {
	case "title":
		return FieldTitle, nil
	case "body", "text":
		return FieldBody, nil
	default:
		return 0, fmt.Errorf("unknown field %q", name)
	}
}

// Posting is one (document, term frequency) pair within a field.
type Posting struct {
	DocID     string `cbor:"1,keyasint"`
	Frequency int    `cbor:"2,keyasint"`
}

// PostingList is ordered by ascending DocID and holds each DocID once.
type PostingList []Posting

// TermEntry is the posting list of one term in one field.
type TermEntry struct {
	Term     string
	Field    Field
	Postings PostingList
}

// FieldLengths holds the token count of every field of a document.
type FieldLengths [NumFields]int

// Document is a corpus article. Sentences are kept in order so callers can
// address supporting facts by index.
type Document struct {
	ID        string   `cbor:"1,keyasint" json:"id"`
	Title     string   `cbor:"2,keyasint" json:"title"`
	Sentences []string `cbor:"3,keyasint" json:"sentences"`
	URL       string   `cbor:"4,keyasint,omitempty" json:"url"`
}

// Body is the searchable body text: the sentences joined by single spaces.
func (d Document) Body() string {
	return strings.Join(d.Sentences, " ")
}

// StoredDocument is a Document together with its indexed field lengths.
type StoredDocument struct {
	Document
	Lengths FieldLengths
}
