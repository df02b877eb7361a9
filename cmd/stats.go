package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsDepth int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Open the projects and report cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close(ctx)

		if err := s.ws.Warm(ctx); err != nil {
			return fmt.Errorf("warm: %w", err)
		}
		for _, name := range s.ws.Projects() {
			h, err := s.resolve(ctx, projectDir(s, name))
			if err != nil {
				return err
			}
			if _, err := s.ws.Outline(ctx, h, statsDepth); err != nil {
				return err
			}
		}

		tiers, bufs := s.ws.Stats()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "TIER\tOPEN\tCAPACITY\tHITS\tMISSES\tEVICTIONS\tREFUSALS")
		for _, t := range tiers {
			capacity := fmt.Sprint(t.Capacity)
			if t.Capacity == 0 {
				capacity = "pinned"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\t%d\n", t.Tier, t.Len, capacity, t.Hits, t.Misses, t.Evictions, t.Refusals)
		}
		_, _ = fmt.Fprintf(tw, "buffers\t%d\t%d\t-\t-\t%d\t%d\n", bufs.Len, bufs.Capacity, bufs.Evictions, bufs.Refusals)
		return tw.Flush()
	},
}

func projectDir(s *session, name string) string {
	for _, p := range s.cfg.Projects {
		if p.Name == name {
			return p.Path
		}
	}
	return name
}

func init() {
	statsCmd.Flags().IntVarP(&statsDepth, "depth", "d", 3, "Levels below each project to open; negative for no limit")
	rootCmd.AddCommand(statsCmd)
}
