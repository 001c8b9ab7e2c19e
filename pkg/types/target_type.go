package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// TargetID Identifies the private backend a user is allowed to reach. Older session documents and credentials
// carry it as a numeric "target_port", newer ones as a string "target_id"; both decode into the same value.
type TargetID string

func (t TargetID) String() string {
	return string(t)
}

func (t *TargetID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TargetID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("target identifier must be a string or a number: %w", err)
	}
	*t = TargetID(n.String())
	return nil
}

// MarshalJSON Targets that look like port numbers are written as numbers, to stay compatible with documents
// written by other tools.
func (t TargetID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseUint(string(t), 10, 16); err == nil {
		return []byte(strconv.FormatUint(n, 10)), nil
	}
	return json.Marshal(string(t))
}
