package engine

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions are the sampling parameters for one chat call. Zero values
// leave the backend default in place.
type ChatOptions struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Fraction returns completed/total in [0,1], or -1 when the total is unknown.
func (p PullProgress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		f = 1
	}
	return f
}
