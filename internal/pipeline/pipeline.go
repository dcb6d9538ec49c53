// Package pipeline describes the chained three-stage layout of the bucket:
// which prefix each stage reads from and writes to, and how output keys are
// derived from input keys.
package pipeline

import (
	"path"
	"strings"

	"github.com/aliskhannn/image-pipeline/internal/model"
)

// Stage binds an operation to the prefix it consumes and the prefix it
// produces.
type Stage struct {
	Operation    model.Operation
	InputPrefix  string
	OutputPrefix string
}

// Stages is the fixed pipeline order: input/ -> stage1/ -> stage2/ -> output/.
var Stages = []Stage{
	{Operation: model.OpRotate, InputPrefix: "input/", OutputPrefix: "stage1/"},
	{Operation: model.OpResize, InputPrefix: "stage1/", OutputPrefix: "stage2/"},
	{Operation: model.OpGrayscale, InputPrefix: "stage2/", OutputPrefix: "output/"},
}

// InputPrefix is where new images enter the pipeline.
const InputPrefix = "input/"

// StageFor returns the stage that runs op.
func StageFor(op model.Operation) (Stage, bool) {
	for _, s := range Stages {
		if s.Operation == op {
			return s, true
		}
	}
	return Stage{}, false
}

// StageForKey returns the stage whose input prefix key lives under.
func StageForKey(key string) (Stage, bool) {
	for _, s := range Stages {
		if strings.HasPrefix(key, s.InputPrefix) {
			return s, true
		}
	}
	return Stage{}, false
}

// DeriveKey places the base name of key under prefix. Applying it to its own
// result with the same prefix returns the same key.
func DeriveKey(prefix, key string) string {
	return prefix + path.Base(key)
}

// OutputKey returns where op writes its result for an input at key.
func OutputKey(op model.Operation, key string) string {
	s, ok := StageFor(op)
	if !ok {
		return key
	}
	return DeriveKey(s.OutputPrefix, key)
}

// IsImageKey reports whether key has a recognised image extension.
func IsImageKey(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// FindInput returns the first listed object under prefix that is a
// non-empty image and not the folder marker itself. Listing order decides
// between several candidates.
func FindInput(objects []model.Object, prefix string) (model.Object, bool) {
	for _, o := range objects {
		if o.Key == prefix || o.Size <= 0 {
			continue
		}
		if !strings.HasPrefix(o.Key, prefix) || !IsImageKey(o.Key) {
			continue
		}
		return o, true
	}
	return model.Object{}, false
}

// EnsureExtension appends ".jpeg" to a name without an extension.
func EnsureExtension(name string) string {
	if path.Ext(name) == "" {
		return name + ".jpeg"
	}
	return name
}
