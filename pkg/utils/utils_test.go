package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateMessageID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateMessageID()
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGenerateID_Prefix(t *testing.T) {
	id := GenerateID("room")
	assert.True(t, strings.HasPrefix(id, "room_"))

	other := GenerateRoomID()
	assert.True(t, strings.HasPrefix(other, "room_"))
	assert.NotEqual(t, id, other)
}

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.NotEqual(t, id, GenerateRequestID())
}
