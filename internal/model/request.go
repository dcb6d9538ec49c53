package model

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Request is the JSON request shape accepted by every boundary (Lambda, HTTP,
// Kafka). Which fields are set decides the invocation mode.
type Request struct {
	// Records is the storage-event envelope (S3 / MinIO bucket notification).
	Records []events.S3EventRecord `json:"Records,omitempty"`

	// Payload mode.
	ImageData string `json:"image_data,omitempty"`

	// Reference mode.
	S3Bucket     string `json:"s3_bucket,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	InlineOutput bool   `json:"inline_output,omitempty"`

	// Manual mode; InputKey is auto-discovered when empty.
	BucketName string `json:"bucket_name,omitempty"`
	InputKey   string `json:"input_key,omitempty"`

	Operation string `json:"operation,omitempty"`

	RotationDegrees     *float64 `json:"rotation_degrees,omitempty"`
	Expand              *bool    `json:"expand,omitempty"`
	ScalePercent        *float64 `json:"scale_percent,omitempty"`
	Width               int      `json:"width,omitempty"`
	Height              int      `json:"height,omitempty"`
	MaintainAspectRatio bool     `json:"maintain_aspect_ratio,omitempty"`
	GreyscaleMode       string   `json:"greyscale_mode,omitempty"`

	// RawImage carries undecoded inline bytes from a non-JSON transport
	// (multipart upload). It is never read from JSON.
	RawImage []byte `json:"-"`
}

// SourceRef is the resolved input location: exactly one of the object
// reference or the inline bytes is populated.
type SourceRef struct {
	Bucket string
	Key    string
	Inline []byte
}

// IsInline reports whether the source is carried in the request itself.
func (s SourceRef) IsInline() bool {
	return s.Inline != nil
}

// EventObject extracts bucket and key from the first storage-event record.
// Keys arrive URL-encoded with '+' for spaces.
func (r Request) EventObject() (bucket, key string, err error) {
	if len(r.Records) == 0 {
		return "", "", fmt.Errorf("%w: event has no records", ErrValidation)
	}

	rec := r.Records[0].S3
	bucket = rec.Bucket.Name
	key, err = url.QueryUnescape(rec.Object.Key)
	if err != nil {
		key = strings.ReplaceAll(rec.Object.Key, "+", " ")
	}

	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: event record missing bucket or key", ErrValidation)
	}

	return bucket, key, nil
}

// Object describes one listed storage object.
type Object struct {
	Key  string
	Size int64
}
