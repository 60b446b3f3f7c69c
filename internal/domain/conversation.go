package domain

import (
	"sort"
	"strconv"
	"time"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/database"
)

// Conversation is a two-party messaging thread.
type Conversation struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	PairKey   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasMember reports whether userID is one of the two members.
func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// OtherMember returns the member that is not userID, or "" if userID is not a member.
func (c *Conversation) OtherMember(userID string) string {
	if !c.HasMember(userID) {
		return ""
	}
	for _, m := range c.Members {
		if m != userID {
			return m
		}
	}
	return ""
}

// PairKey returns the canonical key of an unordered user pair. The first id
// is length-prefixed ("<len>:<first>:<second>") so ids containing the
// separator cannot make two pairs share a key.
func PairKey(userA, userB string) string {
	pair := SortedPair(userA, userB)
	return strconv.Itoa(len(pair[0])) + ":" + pair[0] + ":" + pair[1]
}

// IsPair reports whether the conversation's members are exactly {userA, userB}.
func (c *Conversation) IsPair(userA, userB string) bool {
	if len(c.Members) != 2 {
		return false
	}
	want := SortedPair(userA, userB)
	got := SortedPair(c.Members[0], c.Members[1])
	return want[0] == got[0] && want[1] == got[1]
}

// SortedPair returns the two ids in canonical order.
func SortedPair(userA, userB string) []string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair
}

// ConversationModel is the GORM model for the conversations table.
type ConversationModel struct {
	ID        string               `gorm:"type:varchar(36);primaryKey"`
	PairKey   string               `gorm:"type:varchar(255);uniqueIndex;not null"`
	MemberA   string               `gorm:"type:varchar(64);index;not null"`
	MemberB   string               `gorm:"type:varchar(64);index;not null"`
	Members   database.StringArray `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName specifies the table name for ConversationModel.
func (ConversationModel) TableName() string {
	return "dm_conversations"
}

// ToDomain converts ConversationModel to domain Conversation.
func (m *ConversationModel) ToDomain() *Conversation {
	return &Conversation{
		ID:        m.ID,
		Members:   []string(m.Members),
		PairKey:   m.PairKey,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ConversationToModel converts domain Conversation to ConversationModel.
func ConversationToModel(c *Conversation) *ConversationModel {
	pair := SortedPair(c.Members[0], c.Members[1])
	return &ConversationModel{
		ID:        c.ID,
		PairKey:   c.PairKey,
		MemberA:   pair[0],
		MemberB:   pair[1],
		Members:   database.StringArray(c.Members),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
