package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
)

// entryView is the printed form of an entry. Embeddings are omitted.
type entryView struct {
	ID        string         `json:"id"`
	Kind      memory.Kind    `json:"kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Score     *float64       `json:"score,omitempty"`
}

func viewOf(e *memory.Entry, scored bool) entryView {
	v := entryView{
		ID:        e.ID,
		Kind:      e.Kind,
		Content:   e.Content,
		Metadata:  e.Metadata,
		Source:    e.Source,
		Timestamp: e.Timestamp,
	}
	if scored {
		score := e.Score
		v.Score = &score
	}
	return v
}

type linkView struct {
	TargetID  string         `json:"target_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Target    entryView      `json:"target"`
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// parseMeta turns k=v pairs into metadata. Integers, floats and booleans are
// stored typed; everything else as a string.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", pair)
		}
		meta[k] = typedValue(v)
	}
	return meta, nil
}

func typedValue(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func newRememberCmd(flags *globalFlags) *cobra.Command {
	var (
		kind   string
		source string
		meta   []string
	)

	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			return run(cmd, flags, func(ctx context.Context, s *session) error {
				entry, err := s.client.Memory().Add(ctx, memory.Entry{
					Kind:     memory.Kind(kind),
					Content:  strings.Join(args, " "),
					Metadata: metadata,
					Source:   source,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewOf(entry, false))
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(memory.KindKnowledge), "conversation, summary, knowledge, context or system")
	cmd.Flags().StringVar(&source, "source", "cli", "source tag")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata as key=value (repeatable)")
	return cmd
}

func newRecallCmd(flags *globalFlags) *cobra.Command {
	var (
		limit        int
		minRelevance float64
		kinds        []string
		meta         []string
	)

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search memories by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			q := memory.Query{
				Text:         strings.Join(args, " "),
				Metadata:     metadata,
				MinRelevance: memory.Threshold(minRelevance),
				Limit:        limit,
			}
			for _, k := range kinds {
				q.Kinds = append(q.Kinds, memory.Kind(k))
			}

			return run(cmd, flags, func(ctx context.Context, s *session) error {
				entries, err := s.client.Memory().Search(ctx, q)
				if err != nil {
					return err
				}
				views := make([]entryView, 0, len(entries))
				for _, e := range entries {
					views = append(views, viewOf(e, true))
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", memory.DefaultContextLimit, "maximum results")
	cmd.Flags().Float64Var(&minRelevance, "min-relevance", memory.DefaultMinRelevance, "minimum cosine similarity")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only these kinds")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "require metadata key=value (repeatable)")
	return cmd
}

func newForgetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(ctx context.Context, s *session) error {
				if err := s.client.Memory().Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
				return nil
			})
		},
	}
}

func newLinkCmd(flags *globalFlags) *cobra.Command {
	var (
		meta   []string
		remove bool
	)

	cmd := &cobra.Command{
		Use:   "link <from> <to>",
		Short: "Associate one memory with another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			return run(cmd, flags, func(ctx context.Context, s *session) error {
				store := s.client.Memory()
				if remove {
					if err := store.Dissociate(ctx, args[0], args[1]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "unlinked %s -> %s\n", args[0], args[1])
					return nil
				}
				if err := store.Associate(ctx, args[0], args[1], metadata); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "association metadata as key=value (repeatable)")
	cmd.Flags().BoolVar(&remove, "rm", false, "remove the association instead")
	return cmd
}

func newLinksCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "links <id>",
		Short: "List the memories an entry is associated with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, func(ctx context.Context, s *session) error {
				linked, err := s.client.Memory().Associations(ctx, args[0])
				if err != nil {
					return err
				}
				views := make([]linkView, 0, len(linked))
				for _, l := range linked {
					views = append(views, linkView{
						TargetID:  l.TargetID,
						Metadata:  l.Metadata,
						CreatedAt: l.CreatedAt,
						Target:    viewOf(l.Entry, false),
					})
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
}
