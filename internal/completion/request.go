package completion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ncecere/codegen_gateway/internal/models"
)

// DecodeMessages extracts the messages field from a request body. A missing field or a
// JSON-falsy value (null, false, 0, "") yields ErrMessagesRequired. Any present value that
// is not a list of role/content turns is a decode error.
func DecodeMessages(body []byte) ([]models.ChatMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode request body: trailing data")
	}
	if payload == nil {
		return nil, fmt.Errorf("decode request body: body is null")
	}

	var raw any
	if obj, ok := payload.(map[string]any); ok {
		raw = obj["messages"]
	}
	if falsy(raw) {
		return nil, ErrMessagesRequired
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal(encoded, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return messages, nil
}

func falsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		return val == ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}
