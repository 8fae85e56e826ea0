package gateway

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ContactRef is a contactId as sent by callers: a JSON number or a numeric
// string.
type ContactRef struct {
	raw json.RawMessage
}

// ContactID builds a ContactRef from an integer.
func ContactID(id int64) ContactRef {
	return ContactRef{raw: strconv.AppendInt(nil, id, 10)}
}

func (c *ContactRef) UnmarshalJSON(data []byte) error {
	c.raw = append(c.raw[:0], data...)
	return nil
}

func (c ContactRef) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// Present reports whether a usable value was supplied. Absent, null, false,
// zero and the empty string all count as missing.
func (c ContactRef) Present() bool {
	raw := bytes.TrimSpace(c.raw)
	switch string(raw) {
	case "", "null", "false", `""`:
		return false
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == 0 {
		return false
	}
	return true
}

// Int returns the referenced contact as a positive integer.
func (c ContactRef) Int() (int64, bool) {
	raw := bytes.TrimSpace(c.raw)
	if len(raw) == 0 {
		return 0, false
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		id = int64(f)
	}
	return id, id > 0
}

func (c ContactRef) String() string {
	return string(c.raw)
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	ContactID ContactRef `json:"contactId"`
	Text      string     `json:"text"`
}

// SimulateRequest is the body of POST /test/simulate_message.
type SimulateRequest struct {
	ContactID   ContactRef `json:"contactId"`
	DisplayName string     `json:"displayName,omitempty"`
	Text        string     `json:"text"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type addressResponse struct {
	Address json.RawMessage `json:"address"`
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}
