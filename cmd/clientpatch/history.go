package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcrodman/clientpatch/internal/core/data"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists previously patched clients",
	Run:   HistoryCommand,
	Args:  cobra.NoArgs,
}

var (
	KindFlag  string
	LimitFlag int
	PurgeFlag time.Duration
)

func HistoryCommand(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	if PurgeFlag > 0 {
		n, err := data.DeletePatchRecordsBefore(a.db, time.Now().Add(-PurgeFlag))
		if err != nil {
			exitWithError("error purging history", err)
		}
		a.log.Infof("purged %d patches", n)
	}

	records, err := data.FindPatchRecords(a.db, KindFlag, LimitFlag)
	if err != nil {
		exitWithError("error reading history", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tCACHED\tSOURCE\tOUTPUT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Kind, r.Cached, r.Source, r.Output)
	}
	w.Flush()
}
