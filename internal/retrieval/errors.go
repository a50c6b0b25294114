package retrieval

import "fmt"

// Retrieval stages.
const (
	StageEmbed  = "embed"
	StageSearch = "search"
)

// RetrievalError reports that context could not be produced. Stage names the
// step that failed; Err is nil when search succeeded with no usable passages.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("retrieval %s: no passages found", e.Stage)
	}
	return fmt.Sprintf("retrieval %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
