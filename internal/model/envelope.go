package model

import (
	"encoding/json"
	"maps"
)

// Envelope is the response of one invocation: a flat mapping with at least
// success and operation, the output location or inline bytes, and every
// instrumentation attribute collected while handling the request.
type Envelope struct {
	Operation  string
	Success    bool
	ImageData  string // base64, payload mode or inline_output
	BucketName string
	OutputKey  string
	Error      string
	Attributes map[string]any
}

// Map flattens the envelope. Fixed fields win over attributes of the same name.
func (e Envelope) Map() map[string]any {
	m := make(map[string]any, len(e.Attributes)+6)
	maps.Copy(m, e.Attributes)

	m["success"] = e.Success
	m["operation"] = e.Operation
	if e.ImageData != "" {
		m["image_data"] = e.ImageData
	}
	if e.BucketName != "" {
		m["bucket_name"] = e.BucketName
	}
	if e.OutputKey != "" {
		m["output_key"] = e.OutputKey
	}
	if e.Error != "" {
		m["error"] = e.Error
	}

	return m
}

// WithoutImage returns a copy with the inline bytes dropped, for logging and
// publishing.
func (e Envelope) WithoutImage() Envelope {
	e.ImageData = ""
	return e
}

// MarshalJSON encodes the flat mapping.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}
