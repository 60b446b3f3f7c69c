package domain

// ReactionGroup is the per-emoji view of a message's reactions.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ReactionState is returned by reaction mutations.
type ReactionState struct {
	MessageID      string          `json:"messageId"`
	ConversationID string          `json:"conversationId"`
	Reactions      []Reaction      `json:"reactions"`
	Groups         []ReactionGroup `json:"groups"`
}

// WithReaction returns a copy of reactions where userID's entry is replaced by emoji.
// The new entry goes to the end of the list.
func WithReaction(reactions []Reaction, userID, emoji string) []Reaction {
	out := WithoutReaction(reactions, userID)
	return append(out, Reaction{UserID: userID, Emoji: emoji})
}

// WithoutReaction returns a copy of reactions without userID's entry.
func WithoutReaction(reactions []Reaction, userID string) []Reaction {
	out := make([]Reaction, 0, len(reactions)+1)
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
		}
	}
	return out
}

// GroupReactions counts reactions by emoji, in order of first appearance.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}

// NewReactionState builds the mutation result for a message.
func NewReactionState(m *Message) *ReactionState {
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	return &ReactionState{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Reactions:      reactions,
		Groups:         GroupReactions(reactions),
	}
}
