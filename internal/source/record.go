package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawValue holds a scalar as delivered by the feed. The feed mixes JSON
// numbers and strings for numeric columns; null and "" both mean absent.
type RawValue string

func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(strings.TrimSpace(s))
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		return fmt.Errorf("unexpected composite value %s", string(data))
	}
	*v = RawValue(data)
	return nil
}

func (v RawValue) MarshalJSON() ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

// Present reports whether the feed supplied a value
func (v RawValue) Present() bool {
	return strings.TrimSpace(string(v)) != ""
}

func (v RawValue) String() string {
	return string(v)
}

// StringList accepts either a JSON array of strings or a single string
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*l = nil
		} else {
			*l = StringList{s}
		}
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// RawRecord is one transaction record as published by the feed. DecodeErr is
// set when the record could not be decoded; the other fields then hold
// whatever was recovered.
type RawRecord struct {
	MutationID     string     `json:"id_mutation"`
	ParcelID       string     `json:"id_parcelle"`
	MutationDate   string     `json:"date_mutation"`
	MutationNature string     `json:"nature_mutation"`
	Price          RawValue   `json:"valeur_fonciere"`
	Surface        RawValue   `json:"surface_reelle_bati"`
	Rooms          RawValue   `json:"nombre_pieces_principales"`
	Bedrooms       RawValue   `json:"nombre_chambres"`
	LocalType      string     `json:"type_local"`
	PostalCode     RawValue   `json:"code_postal"`
	City           string     `json:"nom_commune"`
	Department     RawValue   `json:"code_departement"`
	Latitude       RawValue   `json:"latitude"`
	Longitude      RawValue   `json:"longitude"`
	Title          string     `json:"titre"`
	Description    string     `json:"description"`
	URL            string     `json:"url"`
	Images         StringList `json:"images"`

	DecodeErr error `json:"-"`
}

// Page is the response envelope of one partition request
type Page struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// DecodeRecords decodes each result independently so one malformed record
// does not discard the rest of the page.
func DecodeRecords(results []json.RawMessage) []RawRecord {
	records := make([]RawRecord, 0, len(results))
	for _, item := range results {
		var record RawRecord
		if err := json.Unmarshal(item, &record); err != nil {
			record = RawRecord{DecodeErr: err}
			var ids struct {
				MutationID string `json:"id_mutation"`
			}
			if json.Unmarshal(item, &ids) == nil {
				record.MutationID = ids.MutationID
			}
		}
		records = append(records, record)
	}
	return records
}
