package task

import "strings"

type ErrorKind string

const (
	KindRateLimited      ErrorKind = "rate_limited"
	KindUpstreamRejected ErrorKind = "upstream_rejected"
	KindUnknown          ErrorKind = "unknown"
)

const (
	UpstreamErrorPrefix = "API Error:"

	rateLimitedMessage = "rate limit reached, retry later"
	unknownMessage     = "an unknown error occurred during image generation"
)

// ClassifiedError is a failed task's error reduced to a small taxonomy.
type ClassifiedError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ClassifiedError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Classify maps an opaque generation failure to a ClassifiedError.
// The upstream only exposes free text, so this is a best-effort match on
// substrings and prefixes. Classify never fails; a nil error is Unknown.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Kind: KindUnknown, Message: unknownMessage}
	}
	text := err.Error()

	switch {
	case strings.Contains(text, "429") || strings.Contains(text, "RESOURCE_EXHAUSTED"):
		return ClassifiedError{Kind: KindRateLimited, Message: rateLimitedMessage}
	case strings.HasPrefix(text, UpstreamErrorPrefix):
		msg := strings.TrimSpace(strings.TrimPrefix(text, UpstreamErrorPrefix))
		if msg == "" {
			msg = unknownMessage
		}
		return ClassifiedError{Kind: KindUpstreamRejected, Message: msg}
	case strings.TrimSpace(text) == "":
		return ClassifiedError{Kind: KindUnknown, Message: unknownMessage}
	default:
		return ClassifiedError{Kind: KindUnknown, Message: text}
	}
}
