package kafkastream

import (
	"encoding/json"
	"fmt"
)

// ValueRecord is one item on the values topic. Position is absolute;
// Payload is the JSON-encoded item.
type ValueRecord struct {
	Position int             `json:"position"`
	Payload  json.RawMessage `json:"payload"`
}

// TotalRecord is one item on the totals topic.
type TotalRecord struct {
	Total int `json:"total"`
}

// EncodeValue builds the wire form of a value record.
func EncodeValue[T any](position int, value T) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload at position %d: %w", position, err)
	}
	data, err := json.Marshal(ValueRecord{Position: position, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode value record: %w", err)
	}
	return data, nil
}

// DecodeValue parses a value record and its payload.
func DecodeValue[T any](data []byte) (int, T, error) {
	var rec ValueRecord
	var value T
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, value, fmt.Errorf("failed to decode value record: %w", err)
	}
	if rec.Position < 0 {
		return 0, value, fmt.Errorf("invalid position in value record: %d", rec.Position)
	}
	if err := json.Unmarshal(rec.Payload, &value); err != nil {
		return 0, value, fmt.Errorf("failed to decode payload at position %d: %w", rec.Position, err)
	}
	return rec.Position, value, nil
}

// EncodeTotal builds the wire form of a total record.
func EncodeTotal(total int) ([]byte, error) {
	data, err := json.Marshal(TotalRecord{Total: total})
	if err != nil {
		return nil, fmt.Errorf("failed to encode total record: %w", err)
	}
	return data, nil
}

// DecodeTotal parses a total record.
func DecodeTotal(data []byte) (int, error) {
	var rec TotalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("failed to decode total record: %w", err)
	}
	if rec.Total < 0 {
		return 0, fmt.Errorf("invalid total in total record: %d", rec.Total)
	}
	return rec.Total, nil
}
