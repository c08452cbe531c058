package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientID(t *testing.T) {
	t.Parallel()

	id, err := parseClientID(" 41256\n")
	require.NoError(t, err)
	assert.Equal(t, int64(41256), id)

	for _, input := range []string{"", "abc", "0", "-5", "12 34"} {
		_, err = parseClientID(input)
		require.ErrorIs(t, err, errInvalidClientID, input)
	}
}

func TestChunkText(t *testing.T) {
	t.Parallel()

	t.Run("short text is one chunk", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"hello"}, chunkText("hello", 10))
	})

	t.Run("breaks between lines", func(t *testing.T) {
		t.Parallel()
		chunks := chunkText("aaaa\nbbbb\ncccc", 10)
		assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, chunks)
	})

	t.Run("long line is cut on rune boundaries", func(t *testing.T) {
		t.Parallel()
		line := strings.Repeat("я", 10) // 20 bytes
		chunks := chunkText(line, 7)
		require.Len(t, chunks, 4)
		for _, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), chunk)
			assert.LessOrEqual(t, len(chunk), 7)
		}
		assert.Equal(t, line, strings.Join(chunks, ""))
	})

	t.Run("escaped entities are never split", func(t *testing.T) {
		t.Parallel()
		for _, line := range []string{
			strings.Repeat("ab&lt;", 1000),
			strings.Repeat(html.EscapeString(`я "x" & y`), 300),
		} {
			chunks := chunkText(line, maxMessageLength)
			require.Greater(t, len(chunks), 1)
			assert.Equal(t, line, strings.Join(chunks, ""))
			for _, chunk := range chunks {
				assert.LessOrEqual(t, len(chunk), maxMessageLength)
				assert.True(t, utf8.ValidString(chunk))
				assert.Equal(t, html.EscapeString(html.UnescapeString(chunk)), chunk, "entity split at %q", chunk[len(chunk)-8:])
			}
		}
	})

	t.Run("history sized text stays under the limit", func(t *testing.T) {
		t.Parallel()
		var builder strings.Builder
		for i := range 500 {
			fmt.Fprintf(&builder, "entry %d with some comment text\n", i)
		}
		chunks := chunkText(builder.String(), maxMessageLength)
		assert.Greater(t, len(chunks), 1)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), maxMessageLength)
		}
		assert.Equal(t, builder.String(), strings.Join(chunks, ""))
	})
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	text, cut := truncateText("short", 10)
	assert.Equal(t, "short", text)
	assert.False(t, cut)

	text, cut = truncateText(strings.Repeat("я", 10), 4)
	assert.Equal(t, "яяяя", text)
	assert.True(t, cut)

	// an emoji is two UTF-16 units
	text, cut = truncateText("ab😀c", 3)
	assert.Equal(t, "ab", text)
	assert.True(t, cut)
}

func TestErrorText(t *testing.T) {
	t.Parallel()
	localizer := newLocalizer(t)

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "client missing from directory",
			err:      fmt.Errorf("submit: %w", directory.ErrClientNotFound),
			expected: "🤷 This client does not exist in the CRM.",
		},
		{
			name:     "escalation limit wins over invalid transition",
			err:      &workflow.StatusError{Kind: workflow.ErrLimitReached, Current: models.StatusRejected},
			expected: "🚫 No escalations left for this client.",
		},
		{
			name:     "invalid transition shows the current status",
			err:      &workflow.StatusError{Kind: workflow.ErrInvalidTransition, Current: models.StatusApproved},
			expected: "🚫 Not possible now. Current status: ✅ approved.",
		},
		{
			name:     "invalid transition without a status",
			err:      workflow.ErrInvalidTransition,
			expected: "🚫 Not possible now. Current status: -.",
		},
		{
			name:     "no session",
			err:      session.ErrNoSession,
			expected: "🤷 You have no review in progress.",
		},
		{
			name:     "ticket not found",
			err:      workflow.ErrNotFound,
			expected: "🤷 This client was never sent for review.",
		},
		{
			name:     "unauthorized",
			err:      workflow.ErrUnauthorized,
			expected: "⛔ You are not allowed to do this.",
		},
		{
			name:     "disabled",
			err:      workflow.ErrDisabled,
			expected: "⏸ This action is switched off by the administrators.",
		},
		{
			name:     "storage failure",
			err:      workflow.ErrStorage,
			expected: "💥 Something went wrong, please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, errorText(localizer, "en", tt.err))
		})
	}
}

func TestIsExpected(t *testing.T) {
	t.Parallel()

	assert.True(t, isExpected(workflow.ErrAlreadyClaimed))
	assert.True(t, isExpected(fmt.Errorf("wrap: %w", directory.ErrClientNotFound)))
	assert.False(t, isExpected(workflow.ErrStorage))
	assert.False(t, isExpected(errors.New("boom")))
}
