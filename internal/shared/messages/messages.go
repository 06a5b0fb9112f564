package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format substitutes {placeholders} in the body.
func (m MessageText) Format(values map[string]string) MessageText {
	body := m.Body
	for k, v := range values {
		body = strings.ReplaceAll(body, "{"+k+"}", v)
	}
	return MessageText{Title: m.Title, Body: body}
}

type Messages struct {
	ImportComplete MessageText `json:"import_complete"`
	ConsentExpired MessageText `json:"consent_expired"`
}

// Default returns the built-in English texts.
func Default() *Messages {
	return &Messages{
		ImportComplete: MessageText{
			Title: "New bank transactions",
			Body:  "{count} new transactions imported from {account}.",
		},
		ConsentExpired: MessageText{
			Title: "Bank connection expired",
			Body:  "Reconnect your BT account to keep importing transactions.",
		},
	}
}

// Load reads a notifications JSON file. Texts missing from the file keep
// their default value.
func Load(path string) (*Messages, error) {
	msgs := Default()
	if path == "" {
		return msgs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}

	var fromFile Messages
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}

	if fromFile.ImportComplete.Title != "" {
		msgs.ImportComplete = fromFile.ImportComplete
	}
	if fromFile.ConsentExpired.Title != "" {
		msgs.ConsentExpired = fromFile.ConsentExpired
	}
	return msgs, nil
}
