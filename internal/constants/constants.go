package constants

// Quote sources record how the text of a quote was entered.
const (
	SourceManual = "manual"
	SourcePhoto  = "photo"
)

// Extraction job states
const (
	JobPending    = "pending"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// IsQuoteSource reports whether s names a known quote source.
func IsQuoteSource(s string) bool {
	return s == SourceManual || s == SourcePhoto
}
