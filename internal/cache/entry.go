// internal/cache/entry.go
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEntry is returned when a cache line cannot be decoded
var ErrMalformedEntry = errors.New("malformed cache entry")

const (
	kindEncrypt = "Encrypt"
	kindDecrypt = "Decrypt"
)

// Record is one cached operation. It is implemented only by
// EncryptRecord and DecryptRecord.
type Record interface {
	kind() string
}

// EncryptRecord captures a completed encrypt request
type EncryptRecord struct {
	Data          string `json:"data"`
	Password      string `json:"password"`
	ResourceType  string `json:"resource_type"`
	EncryptedData string `json:"encrypted_data"`
}

func (EncryptRecord) kind() string { return kindEncrypt }

// DecryptRecord captures a completed decrypt request
type DecryptRecord struct {
	EncryptedData string  `json:"encrypted_data"`
	Password      string  `json:"password"`
	ResourceType  string  `json:"resource_type"`
	ResourceID    *string `json:"resource_id"`
	DecryptedData string  `json:"decrypted_data"`
}

func (DecryptRecord) kind() string { return kindDecrypt }

// Entry is one line of a cache file
type Entry struct {
	Timestamp time.Time
	Record    Record
}

// wireEntry is the on-disk shape. The record is tagged by its variant
// name: {"timestamp":1700000000,"data_type":{"Encrypt":{...}}}
type wireEntry struct {
	Timestamp int64                      `json:"timestamp"`
	DataType  map[string]json.RawMessage `json:"data_type"`
}

// MarshalJSON encodes the entry in cache line format
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Record == nil {
		return nil, fmt.Errorf("%w: nil record", ErrMalformedEntry)
	}
	body, err := json.Marshal(e.Record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEntry{
		Timestamp: e.Timestamp.Unix(),
		DataType:  map[string]json.RawMessage{e.Record.kind(): body},
	})
}

// UnmarshalJSON decodes a cache line
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if len(w.DataType) != 1 {
		return fmt.Errorf("%w: data_type must have exactly one variant", ErrMalformedEntry)
	}

	for k, raw := range w.DataType {
		switch k {
		case kindEncrypt:
			var r EncryptRecord
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
			}
			e.Record = r
		case kindDecrypt:
			var r DecryptRecord
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
			}
			e.Record = r
		default:
			return fmt.Errorf("%w: unknown variant %q", ErrMalformedEntry, k)
		}
	}

	e.Timestamp = time.Unix(w.Timestamp, 0).UTC()
	return nil
}
