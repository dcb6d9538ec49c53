package model

import (
	"fmt"
	"strings"
)

// Operation names one of the three pipeline transforms.
type Operation string

const (
	OpRotate    Operation = "rotate"
	OpResize    Operation = "resize"
	OpGrayscale Operation = "grayscale"
)

// ParseOperation normalises an operation name. The British spelling
// "greyscale" is accepted because deployed function names use it.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rotate":
		return OpRotate, nil
	case "resize":
		return OpResize, nil
	case "grayscale", "greyscale":
		return OpGrayscale, nil
	default:
		return "", fmt.Errorf("%w: unknown operation %q", ErrValidation, s)
	}
}

// OperationFromName infers the operation from a deployment identity such as
// a function name ("python_lambda_rotate", "image-resize-stage").
func OperationFromName(name string) (Operation, bool) {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "rotate"):
		return OpRotate, true
	case strings.Contains(n, "resize"):
		return OpResize, true
	case strings.Contains(n, "grayscale"), strings.Contains(n, "greyscale"):
		return OpGrayscale, true
	default:
		return "", false
	}
}

// Mode is how a request supplied its source image.
type Mode string

const (
	ModeEvent     Mode = "event"
	ModePayload   Mode = "payload"
	ModeReference Mode = "reference"
	ModeManual    Mode = "manual"
)
