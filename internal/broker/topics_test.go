package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	roomID, kind, err := ParseTopic(TypingTopic("3f1c"))
	require.NoError(t, err)
	assert.Equal(t, "3f1c", roomID)
	assert.Equal(t, KindTyping, kind)

	for _, bad := range []string{"", "room..message", "room.r1", "room.r1.unknown", "chan.r1.message"} {
		_, _, err := ParseTopic(bad)
		assert.Error(t, err, bad)
	}
}
