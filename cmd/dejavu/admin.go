package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/always-cache/dejavu/core"
	"github.com/always-cache/dejavu/operation"
	"github.com/always-cache/dejavu/persistence"
	"github.com/spf13/cobra"
)

func lsCmd(flags *globalFlags) *cobra.Command {
	var expiredOnly bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			keys, err := e.dejavu.Persistence().Entries(cmd.Context())
			if err != nil {
				return fmt.Errorf("could not list entries: %w", err)
			}
			return printEntries(cmd.OutOrStdout(), keys, time.Now(), expiredOnly)
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "Only list expired entries")
	return cmd
}

func printEntries(out io.Writer, keys []persistence.Key, now time.Time, expiredOnly bool) error {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].RequestDate.Before(keys[j].RequestDate)
	})
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tCLASS\tCACHED\tEXPIRES\tSERIALISATION")
	for _, key := range keys {
		expired := key.Expired(now)
		if expiredOnly && !expired {
			continue
		}
		expires := formatTime(key.ExpiryDate)
		if expired {
			expires += " (expired)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			short(key.RequestHash), key.ClassHash, formatTime(key.RequestDate), expires, key.Serialisation)
	}
	return w.Flush()
}

func statsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.dejavu.Persistence().Stats(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("could not read entries: %w", err)
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
}

func printStats(out io.Writer, stats persistence.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Entries\t%d\n", stats.Entries)
	fmt.Fprintf(w, "Expired\t%d\n", stats.Expired)
	fmt.Fprintf(w, "Bytes\t%d\n", stats.Bytes)
	if stats.Unparseable > 0 {
		fmt.Fprintf(w, "Foreign keys\t%d\n", stats.Unparseable)
	}
	for _, class := range sortedKeys(stats.Classes) {
		fmt.Fprintf(w, "Class %s\t%d\n", class, stats.Classes[class])
	}
	for _, descriptor := range sortedKeys(stats.Descriptors) {
		name := descriptor
		if name == "" {
			name = "(plain)"
		}
		fmt.Fprintf(w, "Serialisation %s\t%d\n", name, stats.Descriptors[descriptor])
	}
	return w.Flush()
}

func clearCmd(flags *globalFlags) *cobra.Command {
	var rawURL string
	var staleOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, scoped := storedRequest(rawURL)
			op := operation.Clear{ClearStaleEntriesOnly: staleOnly, UseRequestParameters: scoped}
			return runLocal(cmd, flags, func(ctx context.Context, e *env) (*core.Stream, bool) {
				return e.dejavu.HandleOperation(ctx, meta, op, nil, core.Single)
			})
		},
	}
	cmd.Flags().StringVarP(&rawURL, "url", "u", "", "Only clear entries of this URL")
	cmd.Flags().BoolVar(&staleOnly, "stale", false, "Only clear expired entries")
	return cmd
}

func invalidateCmd(flags *globalFlags) *cobra.Command {
	var rawURL string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Mark cache entries as expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, scoped := storedRequest(rawURL)
			op := operation.Invalidate{UseRequestParameters: scoped}
			return runLocal(cmd, flags, func(ctx context.Context, e *env) (*core.Stream, bool) {
				return e.dejavu.HandleOperation(ctx, meta, op, nil, core.Single)
			})
		},
	}
	cmd.Flags().StringVarP(&rawURL, "url", "u", "", "Only invalidate entries of this URL")
	return cmd
}

// runLocal runs a local operation and reports how many entries it touched.
func runLocal(cmd *cobra.Command, flags *globalFlags, handle func(context.Context, *env) (*core.Stream, bool)) error {
	ctx := cmd.Context()
	e, err := setup(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	before, err := e.dejavu.Persistence().Stats(ctx, time.Now())
	if err != nil {
		return err
	}
	stream, ok := handle(ctx, e)
	if !ok {
		return fmt.Errorf("invalid request")
	}
	res, err := stream.Terminal(ctx)
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	after, err := e.dejavu.Persistence().Stats(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, %d expired (was %d, %d expired)\n",
		res.Token.Status, after.Entries, after.Expired, before.Entries, before.Expired)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
