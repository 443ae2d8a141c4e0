// Package cli implements the operator REPL over a wired engine.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"secrange/internal/engine"
)

// Session holds REPL state.
type Session struct {
	eng *engine.Engine
}

// New creates a REPL session over an engine.
func New(eng *engine.Engine) *Session {
	return &Session{eng: eng}
}

// Run reads commands until exit or EOF.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.New("secrange> ")
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if line == "help" {
			s.printHelp(rl.Stdout())
			continue
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "parse error: %v\n", err)
			continue
		}
		if err := s.Dispatch(ctx, rl.Stdout(), args); err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
		}
	}
}

// Dispatch runs a single command. The one-shot CLI mode uses it directly.
func (s *Session) Dispatch(ctx context.Context, out io.Writer, args []string) error {
	switch args[0] {
	case "challenges":
		return s.listChallenges(out)
	case "spawn":
		return s.spawn(ctx, out, args[1:])
	case "stop":
		return s.stopInstance(ctx, out, args[1:])
	case "ps":
		return s.listRunning(ctx, out, args[1:])
	case "sessions":
		return s.listSessions(out, args[1:])
	case "kill":
		return s.killSession(ctx, out, args[1:])
	case "validate":
		return s.validate(out, args[1:])
	case "cleanup":
		return s.cleanup(ctx, out)
	case "stats":
		return s.stats(out)
	case "hint":
		return s.hint(ctx, out, args[1:])
	default:
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
}

func (s *Session) printHelp(out io.Writer) {
	fmt.Fprint(out, `commands:
  challenges                        list catalog entries
  spawn <challenge> <user>          start a challenge session
  stop <instance-id>                stop one instance
  ps [user]                         list running instances
  sessions <user>                   list a user's sessions
  kill <session-id>                 clean up one session
  validate <flag> <instance-id>     check a submitted flag
  cleanup                           evict expired sessions now
  stats                             session registry snapshot
  hint <session-id>                 request the next hint
  exit
`)
}

func (s *Session) listChallenges(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDIFFICULTY\tCATEGORY\tPOINTS")
	for _, def := range s.eng.Catalog.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			def.ID, def.Name, def.Difficulty, def.Category, def.Points)
	}
	return w.Flush()
}

func (s *Session) spawn(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: spawn <challenge> <user>")
	}
	sess, err := s.eng.Sessions.Create(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s instance %s expires %s\n",
		sess.SessionID, sess.InstanceID, sess.ExpiresAt.Format("15:04:05"))
	for containerPort, hostPort := range sess.HostPorts {
		fmt.Fprintf(out, "  port %s -> localhost:%s\n", containerPort, hostPort)
	}
	return nil
}

func (s *Session) stopInstance(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stop <instance-id>")
	}
	if err := s.eng.Orchestrator.Stop(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(out, "stopped")
	return nil
}

func (s *Session) listRunning(ctx context.Context, out io.Writer, args []string) error {
	userID := ""
	if len(args) > 0 {
		userID = args[0]
	}
	instances, err := s.eng.Orchestrator.ListRunning(ctx, userID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tCHALLENGE\tUSER\tSTATUS\tEXPIRES")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			inst.InstanceID, inst.ChallengeID, inst.UserID, inst.Status,
			inst.ExpiresAt.Format("15:04:05"))
	}
	return w.Flush()
}

func (s *Session) listSessions(out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sessions <user>")
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCHALLENGE\tSTATUS\tEXPIRES")
	for _, sess := range s.eng.Sessions.ListUser(args[0]) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			sess.SessionID, sess.ChallengeID, sess.Status,
			sess.ExpiresAt.Format("15:04:05"))
	}
	return w.Flush()
}

func (s *Session) killSession(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kill <session-id>")
	}
	if err := s.eng.Sessions.Cleanup(ctx, args[0]); err != nil {
		return err
	}
	s.eng.Hints.Forget(args[0])
	fmt.Fprintln(out, "cleaned up")
	return nil
}

func (s *Session) validate(out io.Writer, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: validate <flag> <instance-id>")
	}
	if s.eng.Orchestrator.ValidateFlag(args[1], args[0]) {
		fmt.Fprintln(out, "correct")
	} else {
		fmt.Fprintln(out, "incorrect")
	}
	return nil
}

func (s *Session) cleanup(ctx context.Context, out io.Writer) error {
	cleaned := s.eng.Sessions.CleanupExpired(ctx, time.Now())
	fmt.Fprintf(out, "cleaned %d expired sessions\n", cleaned)
	return nil
}

func (s *Session) stats(out io.Writer) error {
	stats := s.eng.Sessions.GetStats()
	fmt.Fprintf(out, "sessions: %d total, %d running, %d starting, %d users\n",
		stats.Total, stats.Running, stats.Starting, stats.UniqueUsers)
	return nil
}

func (s *Session) hint(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hint <session-id>")
	}
	status, err := s.eng.Hints.Request(ctx, args[0])
	if err != nil {
		return err
	}
	hintList, err := s.eng.Hints.Available(ctx, args[0])
	if err != nil {
		return err
	}
	for _, h := range hintList {
		fmt.Fprintf(out, "%d. %s (%s)\n", h.Index+1, h.Text, h.UnlockedBy)
	}
	fmt.Fprintf(out, "%d/%d hints unlocked\n", status.AvailableCount, status.TotalHints)
	return nil
}
