package termstate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveSize(t *testing.T) {
	_, err := New(0, 24)
	assert.Error(t, err)
	_, err = New(80, 0)
	assert.Error(t, err)
}

func TestWriteAndScreen(t *testing.T) {
	e, err := New(20, 5)
	require.NoError(t, err)

	e.Write([]byte("hello"))

	lines := e.Screen()
	require.Len(t, lines, 5)
	assert.Equal(t, "hello", lines[0])
	for _, l := range lines[1:] {
		assert.Empty(t, l)
	}
}

func TestResizeChangesSize(t *testing.T) {
	e, err := New(10, 3)
	require.NoError(t, err)

	require.NoError(t, e.Resize(40, 12))
	cols, rows := e.Size()
	assert.Equal(t, 40, cols)
	assert.Equal(t, 12, rows)
	assert.Len(t, e.Screen(), 12)
}

func TestResizeRejectsNonPositiveSize(t *testing.T) {
	e, err := New(10, 3)
	require.NoError(t, err)
	assert.Error(t, e.Resize(0, 3))
}

func TestCursorAdvancesOnWrite(t *testing.T) {
	e, err := New(20, 5)
	require.NoError(t, err)

	e.Write([]byte("abc"))
	x, y := e.Cursor()
	assert.Equal(t, 3, x)
	assert.Equal(t, 0, y)
}

func TestSerializeContainsWrittenText(t *testing.T) {
	e, err := New(20, 2)
	require.NoError(t, err)
	e.Write([]byte("ok"))

	out := e.Serialize()
	assert.True(t, strings.Contains(out, "ok"))
}
