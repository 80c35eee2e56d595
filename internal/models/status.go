package models

// SubmitResponse is the body returned by /upload, /upload_image and /ingest_url.
type SubmitResponse struct {
	FileID  string `json:"file_id"`
	Message string `json:"message,omitempty"`
}

// Readiness is the decoded meaning of a status response.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
	Failed
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "not_ready"
	}
}

// StatusResponse is the body returned by GET /status/{file_id}.
// Optional fields are pointers so "absent" and "empty" stay distinguishable.
type StatusResponse struct {
	FileID         string  `json:"file_id,omitempty"`
	Ready          bool    `json:"ready"`
	Stage          *string `json:"stage,omitempty"`
	Error          *string `json:"error,omitempty"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	ChatModel      string  `json:"chat_model,omitempty"`
}

// Readiness collapses the response into one of three outcomes.
// A missing or false ready flag without an error message means "keep waiting".
func (s *StatusResponse) Readiness() Readiness {
	if s.Ready {
		return Ready
	}
	if s.Error != nil && *s.Error != "" {
		return Failed
	}
	return NotReady
}

// ErrorMessage returns the backend-reported error or "".
func (s *StatusResponse) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
