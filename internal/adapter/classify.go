package adapter

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aliskhannn/image-pipeline/internal/model"
)

// Classify resolves the invocation mode and source of a request. It performs
// no I/O; every error wraps model.ErrValidation. In manual mode the returned
// key is empty when the input has to be discovered.
func Classify(req model.Request) (model.Mode, model.SourceRef, error) {
	if len(req.Records) > 0 {
		bucket, key, err := req.EventObject()
		if err != nil {
			return model.ModeEvent, model.SourceRef{}, err
		}
		return model.ModeEvent, model.SourceRef{Bucket: bucket, Key: key}, nil
	}

	payload := req.ImageData != "" || len(req.RawImage) > 0
	reference := req.S3Bucket != "" || req.S3Key != ""
	manual := req.BucketName != ""

	var found []model.Mode
	if payload {
		found = append(found, model.ModePayload)
	}
	if reference {
		found = append(found, model.ModeReference)
	}
	if manual {
		found = append(found, model.ModeManual)
	}

	switch len(found) {
	case 0:
		return "", model.SourceRef{}, fmt.Errorf(
			"%w: request needs an event record, image_data, s3_bucket/s3_key or bucket_name", model.ErrValidation)
	case 1:
	default:
		return "", model.SourceRef{}, fmt.Errorf("%w: conflicting request fields for modes %v", model.ErrValidation, found)
	}

	switch found[0] {
	case model.ModePayload:
		if len(req.RawImage) > 0 {
			if req.ImageData != "" {
				return "", model.SourceRef{}, fmt.Errorf("%w: both raw and base64 image data given", model.ErrValidation)
			}
			return model.ModePayload, model.SourceRef{Inline: req.RawImage}, nil
		}
		data, err := decodeBase64(req.ImageData)
		if err != nil {
			return model.ModePayload, model.SourceRef{}, err
		}
		return model.ModePayload, model.SourceRef{Inline: data}, nil
	case model.ModeReference:
		if req.S3Bucket == "" || req.S3Key == "" {
			return model.ModeReference, model.SourceRef{}, fmt.Errorf("%w: s3_bucket and s3_key are both required", model.ErrValidation)
		}
		return model.ModeReference, model.SourceRef{Bucket: req.S3Bucket, Key: req.S3Key}, nil
	default:
		return model.ModeManual, model.SourceRef{Bucket: req.BucketName, Key: req.InputKey}, nil
	}
}

// decodeBase64 accepts padded or unpadded standard base64, optionally behind
// a data URI header.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: image_data is not valid base64: %v", model.ErrDecode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image_data is empty", model.ErrDecode)
	}

	return data, nil
}
