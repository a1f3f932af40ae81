package main

import (
	"encoding/json"
	"os"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/eventpubsub"
)

var rootCmd = &cobra.Command{
	Use:   "journal",
	Short: "Export the trade journal from an event log to CSV",
	Long:  `This program extracts the trade events from a durable event log and writes them to a CSV file.`,
	Run: func(cmd *cobra.Command, args []string) {
		logFile, err := cmd.Flags().GetString("log-file")
		if err != nil {
			log.Fatalf("error getting log-file: %v", err)
		}

		outFile, err := cmd.Flags().GetString("output")
		if err != nil {
			log.Fatalf("error getting output: %v", err)
		}

		f, err := os.Open(logFile)
		if err != nil {
			log.Fatalf("error opening %s: %v", logFile, err)
		}
		defer f.Close()

		records, err := eventpubsub.ReadLogRecords(f)
		if err != nil {
			log.Fatalf("error reading %s: %v", logFile, err)
		}

		var trades []eventmodels.Trade
		for _, rec := range records {
			if rec.Type != eventmodels.TradeEventName {
				continue
			}

			var trade eventmodels.Trade
			if err := json.Unmarshal(rec.Payload, &trade); err != nil {
				log.Warnf("skipping malformed trade record: %v", err)
				continue
			}
			trades = append(trades, trade)
		}

		out, err := os.Create(outFile)
		if err != nil {
			log.Fatalf("error creating %s: %v", outFile, err)
		}
		defer out.Close()

		if err := gocsv.Marshal(trades, out); err != nil {
			log.Fatalf("error writing csv: %v", err)
		}

		log.Infof("wrote %d trades to %s", len(trades), outFile)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(new(string), "log-file", "f", "", "Path to the event log file to read trades from. This flag is required.")
	rootCmd.PersistentFlags().StringVarP(new(string), "output", "o", "trades.csv", "Path of the CSV file to write.")

	rootCmd.MarkPersistentFlagRequired("log-file")

	cobra.CheckErr(rootCmd.Execute())
}
