package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/client"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/profile"
)

type command struct {
	usage string
	help  string
	args  int
	run   func(ctx context.Context, c *client.Client, args []string) (any, error)
}

var commands = map[string]command{
	"status":     {"status", "Show connection state", 0, cmdStatus},
	"connect":    {"connect", "Connect to the server", 0, cmdConnect},
	"disconnect": {"disconnect", "Disconnect from the server", 0, cmdDisconnect},
	"send":       {"send <conversation> <text...>", "Send a message", 2, cmdSend},
	"resend":     {"resend <conversation> <message>", "Resend a failed message", 2, cmdResend},
	"read":       {"read <conversation>", "Mark a conversation read", 1, cmdRead},
	"open":       {"open [conversation]", "Set the active conversation; none clears it", 0, cmdOpen},
	"create":     {"create <conversation> [participant...]", "Create a conversation", 1, cmdCreate},
	"update":     {"update <conversation> <action>", "mute, unmute, archive, unarchive, delete or leave", 2, cmdUpdate},
	"list":       {"list [all]", "List conversations", 0, cmdList},
	"show":       {"show <conversation>", "Show a conversation's messages", 1, cmdShow},
}

var order = []string{"status", "connect", "disconnect", "send", "resend", "read", "open", "create", "update", "list", "show", "watch"}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeout := flag.Duration("timeout", 10*time.Second, "call timeout")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fatalf("cannot connect to daemon for profile %q: %v", name, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := watch(ctx, c, args[1:], *jsonFlag); err != nil {
			fatalf("%v", daemonHint(name, err))
		}
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if len(args)-1 < cmd.args {
		fatalf("usage: chatlinectl %s", cmd.usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	out, err := cmd.run(ctx, c, args[1:])
	if err != nil {
		fatalf("%v", daemonHint(name, err))
	}
	if *jsonFlag {
		outputJSON(out)
		return
	}
	printText(out)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatlinectl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	for _, name := range order {
		if name == "watch" {
			fmt.Fprintf(os.Stderr, "  %-40s %s\n", "watch [prefix...]", "Stream events")
			continue
		}
		cmd := commands[name]
		fmt.Fprintf(os.Stderr, "  %-40s %s\n", cmd.usage, cmd.help)
	}
}

func cmdStatus(ctx context.Context, c *client.Client, _ []string) (any, error) {
	return c.GetConnectionState(ctx, &api.Empty{})
}

func cmdConnect(ctx context.Context, c *client.Client, _ []string) (any, error) {
	return c.Connect(ctx, &api.Empty{})
}

func cmdDisconnect(ctx context.Context, c *client.Client, _ []string) (any, error) {
	return c.Disconnect(ctx, &api.Empty{})
}

func cmdSend(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.Submit(ctx, &api.SubmitRequest{ConversationID: args[0], Content: strings.Join(args[1:], " ")})
}

func cmdResend(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.Resend(ctx, &api.ResendRequest{ConversationID: args[0], MessageID: args[1]})
}

func cmdRead(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.MarkRead(ctx, &api.ConversationRequest{ConversationID: args[0]})
}

func cmdOpen(ctx context.Context, c *client.Client, args []string) (any, error) {
	var id string
	if len(args) > 0 {
		id = args[0]
	}
	return c.SetActive(ctx, &api.ConversationRequest{ConversationID: id})
}

func cmdCreate(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.CreateConversation(ctx, &api.CreateConversationRequest{ConversationID: args[0], Participants: args[1:]})
}

func cmdUpdate(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.UpdateConversation(ctx, &api.UpdateConversationRequest{ConversationID: args[0], Action: args[1]})
}

func cmdList(ctx context.Context, c *client.Client, args []string) (any, error) {
	all := len(args) > 0 && args[0] == "all"
	return c.ListConversations(ctx, &api.ListConversationsRequest{IncludeDeleted: all})
}

func cmdShow(ctx context.Context, c *client.Client, args []string) (any, error) {
	return c.GetConversation(ctx, &api.ConversationRequest{ConversationID: args[0]})
}

func watch(ctx context.Context, c *client.Client, prefixes []string, jsonOut bool) error {
	stream, err := c.Watch(ctx, &api.WatchRequest{Prefixes: prefixes})
	if err != nil {
		return err
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		printEvent(evt)
	}
}

// daemonHint adds the lock holder to connection failures.
func daemonHint(name string, err error) error {
	if strings.Contains(err.Error(), "connect: no such file or directory") ||
		strings.Contains(err.Error(), "connection refused") {
		if pid := lock.Holder(profile.LockPath(name)); pid == 0 {
			return fmt.Errorf("%w (is chatlined running for profile %q?)", err, name)
		}
	}
	return err
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
