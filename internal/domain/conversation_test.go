package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	assert.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	assert.NotEqual(t, PairKey("1:a", "b"), PairKey("1", "a:b"))
}

func TestConversation_IsPair(t *testing.T) {
	c := &Conversation{Members: []string{"b:c", "a"}}

	assert.True(t, c.IsPair("a", "b:c"))
	assert.True(t, c.IsPair("b:c", "a"))
	assert.False(t, c.IsPair("a:b", "c"))
	assert.False(t, (&Conversation{Members: []string{"a"}}).IsPair("a", "a"))
}
