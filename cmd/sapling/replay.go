package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jward/sapling"
	"github.com/jward/sapling/internal/syntax"
)

// session is a recorded sequence of host events.
type session struct {
	Events []sessionEvent `yaml:"events"`
}

// sessionEvent is one host event. An edit without text gets the text its
// changes produce from the buffer's last known text.
type sessionEvent struct {
	Kind    string           `yaml:"kind"`
	Buffer  int64            `yaml:"buffer"`
	Scope   string           `yaml:"scope"`
	Text    *string          `yaml:"text"`
	Changes []sapling.Change `yaml:"changes"`
	// Sync waits for every earlier event to be applied before continuing.
	Sync bool `yaml:"sync"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <session.yaml>",
	Short: "Replay a recorded event session and print the final trees",
	Long:  "Feeds the load, edit and close events of a session file to the engine in order, waits for every parse, and prints the tree of each buffer still open.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&flagQuery, "query", "", "tree-sitter query to run over each final tree")
}

func runReplay(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(args[0])
	if err != nil {
		return outputError("replay", err)
	}

	h, err := setup()
	if err != nil {
		return outputError("replay", err)
	}
	defer h.Close()

	engine := h.newEngine(nil)
	defer engine.Close()

	result, err := replay(cmd.Context(), engine, sess, flagQuery)
	if err != nil {
		return outputError("replay", err)
	}
	return outputResult(cmd.OutOrStdout(), CLIResult{Command: "replay", Results: result})
}

func loadSession(path string) (*session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSession(f)
}

func decodeSession(r io.Reader) (*session, error) {
	var sess session
	if err := yaml.NewDecoder(r).Decode(&sess); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

// replay drives engine through sess and summarizes the buffers left open.
func replay(ctx context.Context, engine *sapling.Engine, sess *session, pattern string) (CLIReplay, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var notified atomic.Int64
	sub := engine.Subscribe(func(sapling.Notification) { notified.Add(1) })
	defer sub.Unsubscribe()

	texts := make(map[int64]string)
	scopes := make(map[int64]string)
	for i, ev := range sess.Events {
		if err := submit(engine, ev, texts, scopes); err != nil {
			return CLIReplay{}, fmt.Errorf("event %d (%s buffer %d): %w", i, ev.Kind, ev.Buffer, err)
		}
		if ev.Sync {
			if err := syncWithin(ctx, engine, 30*time.Second); err != nil {
				return CLIReplay{}, err
			}
		}
	}
	if err := syncWithin(ctx, engine, 30*time.Second); err != nil {
		return CLIReplay{}, err
	}

	trees := engine.Trees()
	ids := make([]int64, 0, len(trees))
	for id := range trees {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := CLIReplay{Events: len(sess.Events), Notifications: int(notified.Load())}
	for _, id := range ids {
		summary, err := summarize(trees[id], scopes[id], "")
		if err != nil {
			return CLIReplay{}, err
		}
		if pattern != "" {
			matches, err := engine.Query(id, pattern)
			if err != nil {
				return CLIReplay{}, err
			}
			summary.Captures = capturesOf(matches)
		}
		summary.BufferID = &id
		out.Trees = append(out.Trees, summary)
	}
	return out, nil
}

func submit(engine *sapling.Engine, ev sessionEvent, texts, scopes map[int64]string) error {
	switch ev.Kind {
	case "load":
		if ev.Text == nil {
			return fmt.Errorf("load needs text")
		}
		texts[ev.Buffer] = *ev.Text
		scopes[ev.Buffer] = ev.Scope
		return engine.Load(ev.Buffer, ev.Scope, *ev.Text)
	case "edit":
		text := ""
		if ev.Text != nil {
			text = *ev.Text
		} else {
			next, err := syntax.Apply([]byte(texts[ev.Buffer]), ev.Changes)
			if err != nil {
				return err
			}
			text = string(next)
		}
		texts[ev.Buffer] = text
		scopes[ev.Buffer] = ev.Scope
		return engine.Edit(ev.Buffer, ev.Scope, ev.Changes, text)
	case "close":
		delete(texts, ev.Buffer)
		delete(scopes, ev.Buffer)
		return engine.CloseBuffer(ev.Buffer)
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

func syncWithin(ctx context.Context, engine *sapling.Engine, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := engine.Sync(ctx); err != nil {
		return fmt.Errorf("waiting for parses: %w", err)
	}
	return nil
}
