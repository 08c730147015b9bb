package underline

import (
	"errors"
	"fmt"
)

var (
	// ErrImageConversionFailed is returned when the submitted bytes cannot be
	// decoded into a bitmap.
	ErrImageConversionFailed = errors.New("image conversion failed")

	// ErrNoTextDetected is returned when recognition yields nothing, or
	// nothing survives the region filter.
	ErrNoTextDetected = errors.New("no text detected")
)

// ProcessingError reports an unexpected failure inside recognition or analysis.
type ProcessingError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("processing failed at %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("processing failed at %s: %s", e.Stage, e.Reason)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// UserMessage returns the text shown to someone who submitted a photo that
// failed with err.
func UserMessage(err error) string {
	var perr *ProcessingError
	switch {
	case errors.Is(err, ErrImageConversionFailed):
		return "Could not read the image. Please try a different photo."
	case errors.Is(err, ErrNoTextDetected):
		return "No text detected. Please ensure the text is clear and well-lit."
	case errors.As(err, &perr):
		return fmt.Sprintf("Text extraction failed: %s", perr.Reason)
	default:
		return err.Error()
	}
}
