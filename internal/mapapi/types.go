// Package mapapi provides a client for the BTC Map integration API.
package mapapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tag keys understood by the map service.
const (
	TagCheckDate        = "check_date:currency:XBT"
	TagCurrencyXBT      = "currency:XBT"
	TagPaymentLightning = "payment:lightning"
	TagPaymentOnchain   = "payment:onchain"
	TagSource           = "source"
)

// CheckDateLayout is the wire format of the check_date tag (YYYY/MM/DD).
const CheckDateLayout = "2006/01/02"

// Establishment is the payload sent when creating or updating a map entry.
type Establishment struct {
	// AcceptsLightning indicates the merchant accepts Lightning payments.
	AcceptsLightning bool `json:"accepts_lightning"`

	// AcceptsOnchain indicates the merchant accepts on-chain payments.
	AcceptsOnchain bool `json:"accepts_onchain"`

	// Address is the street address.
	Address string `json:"address,omitempty"`

	// Description is a short merchant description.
	Description string `json:"description,omitempty"`

	// Lat is the latitude in decimal degrees.
	Lat float64 `json:"lat"`

	// Lon is the longitude in decimal degrees.
	Lon float64 `json:"lon"`

	// Name is the merchant name.
	Name string `json:"name"`

	// Phone is a contact phone number.
	Phone string `json:"phone,omitempty"`

	// Tags are the OpenStreetMap tags attached to the node.
	Tags map[string]string `json:"tags"`

	// Website is the merchant website.
	Website string `json:"website,omitempty"`
}

// Health is the response of the health endpoint.
type Health struct {
	// APIKeyConfigured reports whether the service has a BTC Map API key.
	APIKeyConfigured bool `json:"api_key_configured"`

	// ClientAvailable reports whether the upstream client could be loaded.
	ClientAvailable bool `json:"client_available"`

	// Message is a human readable status.
	Message string `json:"message"`

	// OSMAuthConfigured reports whether OpenStreetMap OAuth credentials are configured.
	OSMAuthConfigured bool `json:"osm_auth_configured"`

	// Status is "ok" when the service is healthy.
	Status string `json:"status"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	// Message is the service-provided error, if any.
	Message string

	// StatusCode is the HTTP status code.
	StatusCode int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// createResponse is the body of a successful create call.
type createResponse struct {
	Data struct {
		ID externalID `json:"id"`
	} `json:"data"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// externalID is a map identifier sent either as a JSON string or as a JSON number.
type externalID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *externalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = externalID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = externalID(n.String())
	return nil
}

// errorResponse is the body of a failed call.
type errorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}
