package ioutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, r.err
}

func TestReadLimited(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int64
		want  string
	}{
		{"whole body", `{"error":"invalid_token"}`, 4096, `{"error":"invalid_token"}`},
		{"truncated", "upstream exploded", 8, "upstream"},
		{"trailing newline", "Bad Gateway\n", 1024, "Bad Gateway"},
		{"empty", "", 1024, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReadLimited(strings.NewReader(tt.input), tt.limit))
		})
	}

	t.Run("read error", func(t *testing.T) {
		r := &failingReader{err: errors.New("connection reset")}
		assert.Equal(t, "<unreadable: connection reset>", ReadLimited(r, 1024))
	})
}
