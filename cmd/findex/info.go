package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func runInfo(_ *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.Load()
	eng.Flush()

	info, err := eng.TryGetDatabaseInfo()
	if err != nil {
		return err
	}

	fmt.Printf("Files:   %s\n", humanize.Comma(int64(info.NumFiles)))
	fmt.Printf("Folders: %s\n", humanize.Comma(int64(info.NumFolders)))
	return nil
}
