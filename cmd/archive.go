package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nestroute/mrtd/std/utils/toolutils"
	"github.com/nestroute/mrtd/transport"
	"github.com/spf13/cobra"
)

func cmdArchive() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "archive",
		Short:   "Inspect a record archive",
		GroupID: "tools",
	}

	var since int64
	list := &cobra.Command{
		Use:   "list DB-DIR",
		Short: "List archived MRT records",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := listArchive(os.Stdout, args[0], uint32(since)); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	list.Flags().Int64Var(&since, "since", 0, "Only records at or after this unix time")
	cmd.AddCommand(list)

	return cmd
}

// listArchive prints one line per archived record followed by a summary.
func listArchive(out io.Writer, path string, since uint32) error {
	archive, err := transport.OpenArchiveSink(path)
	if err != nil {
		return err
	}
	defer archive.Close()

	records, err := archive.Records(since)
	if err != nil {
		return err
	}

	total := 0
	for _, rec := range records {
		fmt.Fprintf(out, "%s type=%d subtype=%s length=%d\n",
			time.Unix(int64(rec.Timestamp), 0).UTC().Format(time.RFC3339),
			rec.Type, transport.SubtypeName(rec.Subtype), len(rec.Body()))
		total += len(rec.Data)
	}

	p := toolutils.StatusPrinter{File: out, Padding: 8}
	p.Print("records", len(records))
	p.Print("bytes", total)
	return nil
}
