package chat

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/store"
)

// Action is a user action on a conversation.
type Action string

const (
	ActionMute      Action = "mute"
	ActionUnmute    Action = "unmute"
	ActionArchive   Action = "archive"
	ActionUnarchive Action = "unarchive"
	ActionDelete    Action = "delete"
	ActionLeave     Action = "leave"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionMute, ActionUnmute, ActionArchive, ActionUnarchive, ActionDelete, ActionLeave:
		return a, nil
	}
	return "", chaterr.InvalidArgument("parse action", fmt.Sprintf("unknown conversation action %q", s))
}

func (a Action) apply(f store.Flags) store.Flags {
	switch a {
	case ActionMute:
		f.Muted = true
	case ActionUnmute:
		f.Muted = false
	case ActionArchive:
		f.Archived = true
	case ActionUnarchive:
		f.Archived = false
	case ActionDelete:
		f.Deleted = true
	case ActionLeave:
		f.Left = true
	}
	return f
}

// UpdateConversation applies a user action. Deleting hides the
// conversation from listings; nothing is destroyed.
func (s *Session) UpdateConversation(ctx context.Context, conversationID string, action Action) error {
	if _, err := ParseAction(string(action)); err != nil {
		return err
	}
	return s.do(ctx, func() error {
		c, ok := s.store.GetConversation(conversationID)
		if !ok {
			return chaterr.NotFound("update conversation", "conversation "+conversationID)
		}
		return s.store.SetFlags(conversationID, action.apply(c.Flags))
	})
}
