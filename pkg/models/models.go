// Package models holds the domain types shared across ragmesh services:
// request/response schemas for the HTTP surface and the row models the
// repositories persist. Validation lives next to the types so every entry
// point applies the same rules.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// IntList is a JSONB-backed list of integers (e.g. citation numbers).
type IntList []int

// Value implements driver.Valuer for IntList
func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]int{})
	}
	return json.Marshal([]int(l))
}

// Scan implements sql.Scanner for IntList
func (l *IntList) Scan(value interface{}) error {
	if value == nil {
		*l = IntList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]int)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]int)(l))
	default:
		return fmt.Errorf("cannot scan %T into IntList", value)
	}
}

// SourceList is a JSONB-backed list of source attributions.
type SourceList []SourceInfo

// Value implements driver.Valuer for SourceList
func (l SourceList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]SourceInfo{})
	}
	return json.Marshal([]SourceInfo(l))
}

// Scan implements sql.Scanner for SourceList
func (l *SourceList) Scan(value interface{}) error {
	if value == nil {
		*l = SourceList{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]SourceInfo)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]SourceInfo)(l))
	default:
		return fmt.Errorf("cannot scan %T into SourceList", value)
	}
}
