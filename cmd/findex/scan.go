package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index the configured folders and save the database",
	Args:  cobra.NoArgs,
	RunE:  runIndexScan,
}

func runIndexScan(_ *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.Rescan()
	eng.Save()
	eng.Flush()

	info, err := eng.TryGetDatabaseInfo()
	if err != nil {
		return err
	}
	if info.NumFiles == 0 && info.NumFolders == 0 {
		return errors.New("scan produced no entries; check includes and permissions")
	}

	fmt.Printf("Indexed %s files and %s folders\n",
		humanize.Comma(int64(info.NumFiles)), humanize.Comma(int64(info.NumFolders)))
	return nil
}
