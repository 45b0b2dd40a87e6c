package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/errors"
)

const (
	maxTitleLength = 1024
	maxBodyLength  = 1048576
	maxIDLength    = 255
)

// article is the shard line layout: {"id", "url", "title", "text"}. Text is
// either a list of sentences or a list of paragraphs of sentences.
type article struct {
	ID    json.RawMessage `json:"id"`
	URL   string          `json:"url"`
	Title *string         `json:"title"`
	Text  json.RawMessage `json:"text"`
}

// Decode turns a raw record into a Document. Any record that cannot be
// indexed yields a *errors.CorruptDocumentError carrying the locator.
func Decode(rec Record) (index.Document, error) {
	var a article
	if err := json.Unmarshal(rec.Raw, &a); err != nil {
		return index.Document{}, &apperrors.CorruptDocumentError{Locator: rec.Locator, Err: err}
	}
	problems := make(map[string]string)

	var title string
	if a.Title == nil {
		problems["title"] = "title is required"
	} else {
		title = strings.TrimSpace(*a.Title)
		if title == "" {
			problems["title"] = "title is required"
		} else if len(title) > maxTitleLength {
			problems["title"] = fmt.Sprintf("title must be at most %d bytes", maxTitleLength)
		}
	}

	id, err := decodeID(a.ID)
	if err != nil {
		problems["id"] = err.Error()
	} else if id == "" {
		id = title
	}
	if len(id) > maxIDLength {
		problems["id"] = fmt.Sprintf("id must be at most %d bytes", maxIDLength)
	}

	sentences, err := flattenText(a.Text)
	if err != nil {
		problems["text"] = err.Error()
	} else {
		size := 0
		for _, s := range sentences {
			size += len(s) + 1
		}
		if size > maxBodyLength {
			problems["text"] = fmt.Sprintf("text must be at most %d bytes", maxBodyLength)
		}
	}

	if len(problems) > 0 {
		return index.Document{}, &apperrors.CorruptDocumentError{Locator: rec.Locator, Fields: problems}
	}
	return index.Document{
		ID:        id,
		Title:     title,
		Sentences: sentences,
		URL:       a.URL,
	}, nil
}

// decodeID accepts a JSON string or number; absent or null means no id.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string or number")
}

// flattenText accepts a list whose items are strings or lists of strings and
// returns the strings in order. Non-string leaves are dropped.
func flattenText(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("text is not valid: %v", err)
		}
		return []string{s}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("text must be a list")
	}
	sentences := make([]string, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				sentences = append(sentences, s)
			}
		case '[':
			var inner []any
			if err := json.Unmarshal(item, &inner); err != nil {
				continue
			}
			for _, v := range inner {
				if s, ok := v.(string); ok {
					sentences = append(sentences, s)
				}
			}
		}
	}
	return sentences, nil
}
