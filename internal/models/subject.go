package models

// Subject is a patient as known to the record store. Read-only here.
type Subject struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	ExternalID  string `json:"external_id,omitempty"`
}
