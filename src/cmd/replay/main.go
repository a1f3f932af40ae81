package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a durable event log",
	Long:  `This program republishes a newline-delimited event log through a fresh bus and prints the number of events delivered per type, in a table.`,
	Run: func(cmd *cobra.Command, args []string) {
		logFile, err := cmd.Flags().GetString("log-file")
		if err != nil {
			log.Fatalf("error getting log-file: %v", err)
		}

		f, err := os.Open(logFile)
		if err != nil {
			log.Fatalf("error opening %s: %v", logFile, err)
		}
		defer f.Close()

		bus := eventpubsub.NewBus(eventpubsub.Config{})
		if err := bus.Start(); err != nil {
			log.Fatalf("error starting bus: %v", err)
		}

		counts, err := eventpubsub.Replay(f, bus)
		if err != nil {
			log.Fatalf("error replaying %s: %v", logFile, err)
		}
		bus.Stop()

		names := make([]eventmodels.EventName, 0, len(counts))
		total := 0
		for name, n := range counts {
			names = append(names, name)
			total += n
		}
		sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Event Type", "Count"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, name := range names {
			table.Append([]string{string(name), fmt.Sprintf("%d", counts[name])})
		}
		table.SetFooter([]string{"total", fmt.Sprintf("%d", total)})
		table.Render()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(new(string), "log-file", "f", "", "Path to the event log file to summarize. This flag is required.")

	rootCmd.MarkPersistentFlagRequired("log-file")

	cobra.CheckErr(rootCmd.Execute())
}
