package domain

type ConversationID string

// Conversation is the membership view the relay needs: who is in it and
// whether it is a 1:1 chat. Everything else about a conversation lives
// with the conversation-management collaborator.
type Conversation struct {
	ID      ConversationID `json:"id"`
	Direct  bool           `json:"direct"`
	Members []UserID       `json:"members"`
}

func (c *Conversation) HasMember(uid UserID) bool {
	for _, m := range c.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// Counterpart returns the other member of a 1:1 conversation.
func (c *Conversation) Counterpart(uid UserID) (UserID, bool) {
	if !c.Direct || len(c.Members) != 2 {
		return "", false
	}
	if c.Members[0] == uid {
		return c.Members[1], true
	}
	if c.Members[1] == uid {
		return c.Members[0], true
	}
	return "", false
}
