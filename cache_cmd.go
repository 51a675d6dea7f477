package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/zbimage/captiond/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the result cache",
	Args:  cobra.NoArgs,
}

var cacheListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List cached captions and audio",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := store.Open(cfg.Cache.Dir)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.Entries()
		if err != nil {
			return err
		}
		printEntries(cmd.OutOrStdout(), st, entries)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := store.Open(cfg.Cache.Dir)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ClearAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", keyword(humanize.Comma(int64(n))+" entries"), cfg.Cache.Dir)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
}

const captionColumn = 40

func printEntries(w io.Writer, st *store.FileStore, entries []store.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, faint("Cache is empty: "+cfg.Cache.Dir))
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})

	var total int64
	fmt.Fprintln(w, header(fmt.Sprintf("%-8s  %-5s  %9s  %-14s  %s", "KEY", "KIND", "SIZE", "AGE", "CAPTION")))
	for _, e := range entries {
		total += e.Size

		key := e.Key.Short()
		if key == "" {
			key = runewidth.Truncate(e.Name, 8, "…")
		}

		caption := ""
		if e.Kind == store.KindText {
			if rec, err := st.Get(e.Key); err == nil {
				caption = runewidth.Truncate(rec.TranslatedText, captionColumn, "…")
			} else {
				caption = faint(err.Error())
			}
		}

		fmt.Fprintf(w, "%-8s  %-5s  %9s  %-14s  %s\n",
			key,
			e.Kind,
			humanize.Bytes(uint64(e.Size)),
			runewidth.FillRight(humanize.Time(e.ModTime), 14),
			caption,
		)
	}

	fmt.Fprintln(w, faint(fmt.Sprintf("%d entries, %s, ceiling %d", len(entries), humanize.Bytes(uint64(total)), cfg.Cache.Ceiling)))
}
