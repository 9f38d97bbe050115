package types

// EventType names a generation progress event.
type EventType string

const (
	EventImage    EventType = "image"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one progress notification of a generation run.
// Data is one of *ImageEventData, *ErrorEventData or *CompleteEventData.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// ImageEventData reports a page that produced an image.
type ImageEventData struct {
	Index    int    `json:"index"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url"`
	Filename string `json:"filename"`
	Provider string `json:"provider,omitempty"`
}

// ErrorEventData reports a page that failed.
type ErrorEventData struct {
	Index     int       `json:"index"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Code      ErrorCode `json:"code,omitempty"`
	Retryable bool      `json:"retryable"`
}

// CompleteEventData terminates a run.
type CompleteEventData struct {
	TaskID        string `json:"task_id"`
	Total         int    `json:"total"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	FailedIndices []int  `json:"failed_indices"`
}
