package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatline/internal/api"
)

func printText(v any) {
	switch out := v.(type) {
	case *api.ConnectionState:
		printState(out)
	case *api.MessageResponse:
		printMessage(out.Message)
	case *api.ConversationResponse:
		printConversation(out.Conversation)
		for _, m := range out.Conversation.Messages {
			printMessage(m)
		}
	case *api.ListConversationsResponse:
		if len(out.Conversations) == 0 {
			fmt.Println("No conversations.")
			return
		}
		for _, c := range out.Conversations {
			printConversation(c)
		}
	case *api.Empty:
		fmt.Println("ok")
	}
}

func printState(s *api.ConnectionState) {
	fmt.Printf("Profile: %s\n", s.Profile)
	fmt.Printf("State:   %s\n", s.State)
	if s.State == "RECONNECTING" {
		fmt.Printf("Attempt: %d (next at %s)\n", s.Attempt, clock(s.NextRetryAtUnixMs))
	}
	fmt.Printf("Uptime:  %s\n", (time.Duration(s.UptimeMs) * time.Millisecond).Round(time.Second))
}

func printConversation(c api.Conversation) {
	var flags []string
	for _, f := range []struct {
		on   bool
		name string
	}{{c.Active, "active"}, {c.Muted, "muted"}, {c.Archived, "archived"}, {c.Deleted, "deleted"}, {c.Left, "left"}} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	line := fmt.Sprintf("%-24s unread=%-3d %s", c.ID, c.Unread, clock(c.LastActivityUnixMs))
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ",") + "]"
	}
	if len(c.Typing) > 0 {
		line += " typing: " + strings.Join(c.Typing, ", ")
	}
	fmt.Println(line)
}

func printMessage(m api.Message) {
	who := m.SenderID
	if m.Outgoing {
		who = "me"
	}
	fmt.Printf("  %s %-10s %-9s %s  (%s)\n", clock(m.CreatedAtUnixMs), who, m.State, m.Content, m.ID)
}

func printEvent(e *api.Event) {
	switch {
	case e.Change != nil:
		fmt.Printf("%s v%d %s %s %s\n", clock(e.OccurredAtUnixMs), e.Version, e.Change.Kind, e.Change.ConversationID, e.Change.MessageID)
	case e.State != nil:
		fmt.Printf("%s %s %s\n", clock(e.OccurredAtUnixMs), e.Kind, e.State.State)
	case e.Failed != nil:
		fmt.Printf("%s message failed %s/%s: %s\n", clock(e.OccurredAtUnixMs), e.Failed.ConversationID, e.Failed.MessageID, e.Failed.Cause)
	case e.Error != "":
		fmt.Printf("%s %s %s\n", clock(e.OccurredAtUnixMs), e.Kind, e.Error)
	default:
		fmt.Printf("%s %s\n", clock(e.OccurredAtUnixMs), e.Kind)
	}
}

func clock(ms int64) string {
	if ms == 0 {
		return "--:--:--"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}
