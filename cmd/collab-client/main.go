// collab-client joins a collaboration session from the terminal. Events
// from other participants are printed to stdout as JSON lines; commands
// are read from stdin, one per line:
//
//	update <component-json>
//	create <component-json>
//	delete <component-id-json>
//	cursor <position-json>
//	who
//	history
//	quit
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/agent-studio/collab/internal/logging"
	"github.com/agent-studio/collab/pkg/syncclient"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var (
		origin    string
		path      string
		agentID   string
		userID    string
		userName  string
		logLevel  string
		logFormat string
	)

	flagSet := pflag.NewFlagSet("collab-client", pflag.ContinueOnError)
	flagSet.StringVar(&origin, "origin", "http://localhost:8080", "HTTP origin of the collaboration server")
	flagSet.StringVar(&path, "path", syncclient.DefaultPath, "WebSocket endpoint path")
	flagSet.StringVarP(&agentID, "agent", "a", "", "agent id whose session to join (required)")
	flagSet.StringVarP(&userID, "user", "u", "", "user id to join as (required)")
	flagSet.StringVarP(&userName, "name", "n", "", "display name (defaults to the user id)")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if agentID == "" || userID == "" {
		return errors.New("--agent and --user are required")
	}

	logger, err := logging.New(logLevel, logFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := &printer{w: stdout}
	client, err := syncclient.New(syncclient.Options{
		Origin:   origin,
		Path:     path,
		AgentID:  agentID,
		UserID:   userID,
		UserName: userName,
		Handlers: out.handlers(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := client.Mount(ctx); err != nil {
		return err
	}
	defer client.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return client.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(client, line, out)
			if err != nil {
				out.print("error", map[string]string{"message": err.Error()})
				continue
			}
			if quit {
				return nil
			}
		}
	}
}

// session is the part of the client the command loop drives.
type session interface {
	UpdateComponent(any) bool
	CreateComponent(any) bool
	DeleteComponent(any) bool
	UpdateCursorPosition(any) bool
	Participants() []syncclient.Participant
	History() []syncclient.Change
}

// execute runs one command line and reports whether the loop should stop.
func execute(s session, line string, out *printer) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var send func(any) bool
	switch cmd {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "who":
		out.print("participants", s.Participants())
		return false, nil
	case "history":
		out.print("history", s.History())
		return false, nil
	case "update":
		send = s.UpdateComponent
	case "create":
		send = s.CreateComponent
	case "delete":
		send = s.DeleteComponent
	case "cursor":
		send = s.UpdateCursorPosition
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}

	if arg == "" || !json.Valid([]byte(arg)) {
		return false, fmt.Errorf("%s needs a JSON argument", cmd)
	}
	if !send(json.RawMessage(arg)) {
		return false, fmt.Errorf("%s dropped: not connected", cmd)
	}
	return false, nil
}

// printer writes one JSON object per event.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) print(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return
	}
	fmt.Fprintln(p.w, string(line))
}

func (p *printer) handlers() syncclient.Handlers {
	return syncclient.Handlers{
		OnSessionJoined: func(s syncclient.Snapshot) {
			p.print("session_joined", map[string]any{"color": s.Color, "users": s.Users, "recentChanges": s.RecentChanges})
		},
		OnUserJoined: func(u syncclient.Participant) { p.print("user_joined", u) },
		OnUserLeft:   func(id string) { p.print("user_left", map[string]string{"userId": id}) },
		OnCursorUpdated: func(id string, pos json.RawMessage) {
			p.print("cursor_updated", map[string]any{"userId": id, "position": pos})
		},
		OnComponentUpdated: func(c syncclient.Change) { p.print("component_updated", c) },
		OnComponentCreated: func(c syncclient.Change) { p.print("component_created", c) },
		OnComponentDeleted: func(c syncclient.Change) { p.print("component_deleted", c) },
		OnError:            func(err error) { p.print("error", map[string]string{"message": err.Error()}) },
	}
}
