package qingping

import "encoding/json"

// MetricValue wraps a single measurement value in the provider's
// `{"value": ...}` envelope.
type MetricValue struct {
	Value float64 `json:"value"`
}

// DeviceData is one sample as reported by the provider: a map from metric
// name to value. Known keys: timestamp, pm25, pm10, co2, temperature,
// humidity, tvoc, pressure, battery. Absent keys mean the sensor model
// does not report that metric.
type DeviceData map[string]MetricValue

// DeviceInfo is the identity block of a provider device record.
type DeviceInfo struct {
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	Product struct {
		EnName string `json:"en_name"`
	} `json:"product"`
	Status struct {
		Offline bool `json:"offline"`
	} `json:"status"`
	Setting struct {
		ReportInterval int `json:"report_interval"`
	} `json:"setting"`
	Timezone string `json:"timezone"`
}

// RawDevice is one device entry from the provider's device list,
// carrying identity plus the latest embedded sample (if any).
type RawDevice struct {
	Info DeviceInfo `json:"info"`
	Data DeviceData `json:"data"`
}

// tokenResponse models the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// HistoryResponse models the historical-data endpoint response.
type HistoryResponse struct {
	Total int          `json:"total"`
	Data  []DeviceData `json:"data"`
}

// WebhookSignature is the authentication block of an inbound webhook.
type WebhookSignature struct {
	Timestamp json.Number `json:"timestamp"`
	Token     string      `json:"token"`
	Signature string      `json:"signature"`
}

// WebhookPayload carries the device identity and its pushed samples.
type WebhookPayload struct {
	Info     DeviceInfo      `json:"info"`
	Data     []DeviceData    `json:"data"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Events   json.RawMessage `json:"events,omitempty"`
}

// WebhookBody is the full inbound webhook request body.
type WebhookBody struct {
	Signature WebhookSignature `json:"signature"`
	Payload   WebhookPayload   `json:"payload"`
}
