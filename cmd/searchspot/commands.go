package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/present"
	"github.com/hyperifyio/searchspot/internal/suggest"
)

func printRecords(w io.Writer, recs []engine.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tNAME\tTAGS\tSUGGEST")
	for _, r := range recs {
		hasSuggest := "-"
		if r.SuggestionURL != "" {
			hasSuggest = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Host, r.Name, strings.Join(r.Tags, ","), hasSuggest)
	}
	return tw.Flush()
}

func (c *cli) enginesCmd() *cobra.Command {
	var (
		match  string
		tag    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List registered engines",
		Long: `Lists engines in insertion order. --tag limits the list to one tag
bucket in bucket order; --match filters hosts and names with a glob such as
"*wiki*".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			reg := a.Registry()
			var recs []engine.Record
			switch {
			case match != "":
				recs, err = reg.Find(match)
				if err != nil {
					return err
				}
			case tag != "":
				recs = reg.ByTag(tag)
			default:
				recs = reg.All()
			}
			if match != "" && tag != "" {
				recs = filterTag(recs, tag)
			}
			return printRecords(cmd.OutOrStdout(), recs, asJSON)
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "Glob over host and name")
	cmd.Flags().StringVar(&tag, "tag", "", "Only engines carrying this tag")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON record per line")
	return cmd
}

func filterTag(recs []engine.Record, tag string) []engine.Record {
	out := recs[:0]
	for _, r := range recs {
		if r.HasTag(tag) {
			out = append(out, r)
		}
	}
	return out
}

func (c *cli) tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags and how many engines carry each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			reg := a.Registry()
			for _, t := range reg.Tags() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", t, len(reg.ByTag(t)))
			}
			return nil
		},
	}
}

func (c *cli) tagCmd() *cobra.Command {
	tag := &cobra.Command{
		Use:   "tag",
		Short: "Add or remove a tag on an engine",
	}
	tag.AddCommand(
		&cobra.Command{
			Use:   "add <tag> <engine>",
			Short: "Tag an engine (host, site URL or name)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, a, done, err := c.open(cmd, true)
				if err != nil {
					return err
				}
				defer done()
				return a.Registry().AddTagByHost(ctx, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:     "rm <tag> <engine>",
			Aliases: []string{"remove"},
			Short:   "Remove a tag from an engine",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, a, done, err := c.open(cmd, true)
				if err != nil {
					return err
				}
				defer done()
				return a.Registry().RemoveTagByHost(ctx, args[0], args[1])
			},
		},
	)
	return tag
}

func (c *cli) removeCmd() *cobra.Command {
	var fromHost bool
	cmd := &cobra.Command{
		Use:   "remove <engine>",
		Short: "Remove an engine from the registry",
		Long: `Removes an engine (host, site URL or name) from the registry and every tag.
With --host the host search service is asked to remove it as well; protected
default engines are hidden rather than deleted there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			rec, ok := a.Registry().Get(args[0])
			if !ok {
				return fmt.Errorf("unknown engine %q", args[0])
			}
			if fromHost {
				if se, ok := a.Mirror().Get(rec.Name); ok {
					if err := a.Mirror().Remove(se.Name); err != nil {
						return err
					}
				}
			}
			// The host removal above may already have dropped the record.
			if _, ok := a.Registry().Get(rec.Host); !ok {
				return nil
			}
			return a.Registry().Remove(ctx, rec.Host)
		},
	}
	cmd.Flags().BoolVar(&fromHost, "host", false, "Also remove the engine from the host search service")
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "submit <engine> <terms...>",
		Short: "Print the search URL for terms on an engine",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			u, err := a.Registry().Submission(args[0], strings.Join(args[1:], " "), location)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "Location for {searchLocation}; defaults to the configured address")
	return cmd
}

// surface picks the presentation for command output.
func surface(w io.Writer, asLog bool) present.Surface {
	if asLog {
		return present.Log{Logger: log.Logger}
	}
	return present.NewJSONLines(w)
}

func (c *cli) suggestCmd() *cobra.Command {
	var asLog bool
	cmd := &cobra.Command{
		Use:   "suggest <terms...>",
		Short: "Run one suggestion round and print every provider's batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			return a.Suggest(ctx, strings.Join(args, " "), surface(cmd.OutOrStdout(), asLog))
		},
	}
	cmd.Flags().BoolVar(&asLog, "log", false, "Report batches through the logger instead of JSON lines")
	return cmd
}

func (c *cli) typeCmd() *cobra.Command {
	var asLog bool
	cmd := &cobra.Command{
		Use:   "type",
		Short: "Interactive session: each input line is the current search text",
		Long: `Reads lines from stdin. Every line replaces the text of the search field, as
if typed; suggestion rounds start once input pauses for --delay. Output is one
JSON event per line. An empty line cancels the pending round.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, done, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer done()
			sess := a.NewSession(surface(cmd.OutOrStdout(), asLog))
			defer sess.Close()

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return waitIdle(ctx, sess)
					}
					if strings.TrimSpace(line) == "" {
						sess.Cancel()
						continue
					}
					sess.Keystroke(line)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&asLog, "log", false, "Report events through the logger instead of JSON lines")
	return cmd
}

type stater interface {
	State() suggest.State
}

// waitIdle lets a pending or running round finish after input ends.
func waitIdle(ctx context.Context, s stater) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for s.State() != suggest.Idle {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
	return nil
}

func (c *cli) discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <page-url>...",
		Short: "Install the OpenSearch engines advertised by web pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			total := 0
			for _, page := range args {
				n, err := a.Discover(ctx, page)
				if err != nil {
					log.Warn().Err(err).Str("page", page).Msg("discovery failed")
					continue
				}
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d engine(s) added\n", total)
			return nil
		},
	}
}

func (c *cli) addURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-url <descriptor-url>",
		Short: "Validate an OpenSearch descriptor URL and install it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			return a.Mirror().AddByURL(ctx, args[0])
		},
	}
}

func (c *cli) currentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current <engine-name>",
		Short: "Make an engine the host's current engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, done, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer done()
			return a.SetCurrent(args[0])
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var asLog bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print registry changes as the host catalog changes",
		Long: `Prints the :default engines and then every registry change until
interrupted. Changes come from edits to the --catalog file and from location
becoming available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, done, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer done()
			if p := a.CatalogPath(); p != "" {
				log.Info().Str("catalog", p).Msg("watching")
			} else {
				log.Info().Msg("no catalog configured; only in-process changes will show")
			}
			unbind := present.Bind(a.Registry(), surface(cmd.OutOrStdout(), asLog))
			defer unbind()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asLog, "log", false, "Report changes through the logger instead of JSON lines")
	return cmd
}
