package compose

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfstamp/annotation"
)

var (
	// ErrResourceResolution: an image could not be read, decoded or embedded.
	ErrResourceResolution = errors.New("resource resolution failed")
	// ErrComposition: drawing an annotation onto its page failed.
	ErrComposition = errors.New("composition failed")
	// ErrUnrecoverableResolution: a text block or drawing could not be
	// prepared.
	ErrUnrecoverableResolution = errors.New("unrecoverable resolution failure")

	ErrLoad          = errors.New("load document")
	ErrSerialization = errors.New("serialize document")
	// ErrDelivery is returned when the document was produced but the sink
	// failed.
	ErrDelivery = errors.New("deliver document")
)

// AnnotationError locates a failure. Err wraps one of the category
// sentinels above together with the cause.
type AnnotationError struct {
	Page  int
	Index int
	Kind  annotation.Kind
	Err   error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("page %d annotation %d (%s): %v", e.Page, e.Index, e.Kind, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

func categorize(category, cause error) error {
	if errors.Is(cause, category) {
		return cause
	}
	return fmt.Errorf("%w: %w", category, cause)
}

// resolutionCategory is the category a resolution failure of kind falls in.
func resolutionCategory(kind annotation.Kind) error {
	switch kind {
	case annotation.KindText, annotation.KindDrawing:
		return ErrUnrecoverableResolution
	}
	return ErrResourceResolution
}

// applyCategory is the category a draw failure of kind falls in.
func applyCategory(kind annotation.Kind) error {
	if kind == annotation.KindDrawing {
		return ErrUnrecoverableResolution
	}
	return ErrComposition
}

// DegradePolicy selects which annotation kinds turn into no-ops on failure
// instead of failing the save.
type DegradePolicy int

const (
	// DegradeImagesAndOverlays degrades images, erases and blurs; text and
	// drawing failures abort the save.
	DegradeImagesAndOverlays DegradePolicy = iota
	// DegradeAll degrades every kind.
	DegradeAll
	// DegradeNone aborts on any failure.
	DegradeNone
)

func (p DegradePolicy) String() string {
	switch p {
	case DegradeAll:
		return "all"
	case DegradeNone:
		return "none"
	}
	return "images-and-overlays"
}

// ParseDegradePolicy accepts the names String returns.
func ParseDegradePolicy(s string) (DegradePolicy, error) {
	switch s {
	case "", "images-and-overlays":
		return DegradeImagesAndOverlays, nil
	case "all":
		return DegradeAll, nil
	case "none":
		return DegradeNone, nil
	}
	return 0, fmt.Errorf("unknown degrade policy %q", s)
}

func (p DegradePolicy) degrades(kind annotation.Kind) bool {
	switch p {
	case DegradeAll:
		return true
	case DegradeNone:
		return false
	}
	switch kind {
	case annotation.KindImage, annotation.KindErase, annotation.KindBlur:
		return true
	}
	return false
}
