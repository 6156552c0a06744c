package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"tripdemand.dev/trips"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Loads the dataset and writes its trip points as CSV",
	Args:  cobra.NoArgs,
	RunE:  export,
}

var exportOutput string

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}

type exportRow struct {
	RandomizedID string `csv:"randomized_id"`
	Timestamp    string `csv:"timestamp"`
	Latitude     string `csv:"latitude"`
	Longitude    string `csv:"longitude"`
}

func exportRows(table *trips.Table) []*exportRow {
	rows := make([]*exportRow, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		r := table.Row(i)
		row := &exportRow{RandomizedID: r.ID}
		if r.Timestamp != nil {
			row.Timestamp = *r.Timestamp
		}
		if r.Latitude != nil {
			row.Latitude = strconv.FormatFloat(*r.Latitude, 'f', -1, 64)
		}
		if r.Longitude != nil {
			row.Longitude = strconv.FormatFloat(*r.Longitude, 'f', -1, 64)
		}
		rows = append(rows, row)
	}
	return rows
}

func export(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manager, err := buildManager(cfg)
	if err != nil {
		return err
	}

	table := manager.LoadTable(cmd.Context())
	if table.Len() == 0 {
		return trips.ErrNoData
	}

	return writeOutput(exportOutput, func(w io.Writer) error {
		if err := gocsv.Marshal(exportRows(table), w); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		return nil
	})
}
