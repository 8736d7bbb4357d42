package task

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type blankError struct{}

func (blankError) Error() string { return "  " }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind ErrorKind
		msg  string
	}{
		{"status code", errors.New("gemini status 429: quota"), KindRateLimited, rateLimitedMessage},
		{"resource exhausted", errors.New("API Error: RESOURCE_EXHAUSTED"), KindRateLimited, rateLimitedMessage},
		{"upstream prefix", errors.New("API Error: x"), KindUpstreamRejected, "x"},
		{"upstream prefix wrapped", fmt.Errorf("API Error: %w", errors.New("model refused")), KindUpstreamRejected, "model refused"},
		{"upstream prefix without message", errors.New("API Error:"), KindUpstreamRejected, unknownMessage},
		{"prefix not at start", errors.New("call failed: API Error: boom"), KindUnknown, "call failed: API Error: boom"},
		{"arbitrary", errors.New("connection reset"), KindUnknown, "connection reset"},
		{"nil", nil, KindUnknown, unknownMessage},
		{"blank text", blankError{}, KindUnknown, unknownMessage},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.err)
			assert.Equal(t, c.kind, got.Kind)
			assert.Equal(t, c.msg, got.Message)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := errors.New("API Error: safety filter")
	assert.Equal(t, Classify(err), Classify(err))
}

func TestClassifiedErrorText(t *testing.T) {
	ce := ClassifiedError{Kind: KindRateLimited, Message: rateLimitedMessage}
	assert.Equal(t, "rate_limited: rate limit reached, retry later", ce.Error())
}
