package batch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"complete", true},
		{"Completed", true},
		{"FAILED", true},
		{"Partially Complete", true},
		{"partially completed", true},
		{"  complete  ", true},
		{"queued", false},
		{"processing", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, IsTerminal(tt.state))
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, Status{State: "Failed"}.Terminal())
	assert.True(t, Status{State: "Failed"}.Failed())
	assert.False(t, Status{State: "partially complete"}.Failed())
	assert.Equal(t, "complete", NormalizeState(" Complete "))
}

func TestErrorKindOf(t *testing.T) {
	err := &Error{Kind: KindPermissionDenied, Message: "archive download failed", HTTPStatus: 403}
	wrapped := fmt.Errorf("fetch: %w", err)

	assert.Equal(t, KindPermissionDenied, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "HTTP 403")
}
