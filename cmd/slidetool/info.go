package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"slidestream/internal/tiling"
)

var infoCmd = &cobra.Command{
	Use:   "info <slide>",
	Short: "Print the pyramid geometry of a slide",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		handle, err := openSlide(args[0])
		if err != nil {
			return err
		}
		defer handle.Close()

		edge := viper.GetInt("tile-edge")
		id := handle.Identity()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "slide:  %s\n", id.Path)
		fmt.Fprintf(out, "id:     %s\n", id.ID())
		fmt.Fprintf(out, "size:   %s\n", humanize.IBytes(uint64(id.Size)))
		fmt.Fprintf(out, "levels: %d (tile edge %d)\n", handle.LevelCount(), edge)
		for level := 0; level < handle.LevelCount(); level++ {
			w, h, err := handle.LevelDimensions(level)
			if err != nil {
				return err
			}
			cols, rows := tiling.GridSize(w, h, edge)
			fmt.Fprintf(out, "  %d: %dx%d, %dx%d tiles\n", level, w, h, cols, rows)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
