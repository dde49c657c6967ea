package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := OrderCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		ID:        42,
	}

	encoded := EncodeCursor(cursor)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestDecodeEmptyCursorStartsFromNow(t *testing.T) {
	decoded, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<63-1), decoded.ID)
	assert.WithinDuration(t, time.Now(), decoded.CreatedAt, time.Minute)
}

func TestDecodeGarbageCursor(t *testing.T) {
	_, err := DecodeCursor("not base64!!!")
	assert.Error(t, err)
}
