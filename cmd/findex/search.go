package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/findex/pkg/findex/query"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

var (
	flagSort       string
	flagDescending bool
	flagLimit      int

	searchCmd = &cobra.Command{
		Use:   "search <pattern>...",
		Short: "Search the indexed files and folders",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
)

func init() {
	searchCmd.Flags().StringVar(&flagSort, "sort", "name", "sort key (name, path, size, mtime, extension)")
	searchCmd.Flags().BoolVar(&flagDescending, "desc", false, "sort descending")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 100, "maximum number of results (0 = unlimited)")
}

const searchViewID = 0

func runSearch(_ *cobra.Command, args []string) error {
	key, err := types.ParseSortKey(flagSort)
	if err != nil {
		return err
	}
	direction := types.Ascending
	if flagDescending {
		direction = types.Descending
	}

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
	if info.NumFiles == 0 && info.NumFolders == 0 {
		// No snapshot yet; build the index now.
		fmt.Println("No database found, scanning...")
		eng.Rescan()
		eng.Flush()
	}

	eng.Search(searchViewID, query.Parse(strings.Join(args, " ")), key, direction)
	eng.Flush()

	search, err := eng.TryGetSearchInfo(searchViewID)
	if err != nil {
		return err
	}

	total := int(search.NumFolders + search.NumFiles)
	shown := total
	if flagLimit > 0 && shown > flagLimit {
		shown = flagLimit
	}
	for i := 0; i < shown; i++ {
		item, ierr := eng.TryGetItemInfo(searchViewID, i)
		if ierr != nil {
			return ierr
		}
		if item.Folder {
			fmt.Printf("%10s  %s/\n", "-", item.Path)
		} else {
			fmt.Printf("%10s  %s\n", humanize.IBytes(item.Size), item.Path)
		}
	}
	if shown < total {
		fmt.Printf("... and %d more\n", total-shown)
	}
	fmt.Printf("%d folders, %d files\n", search.NumFolders, search.NumFiles)
	return nil
}
