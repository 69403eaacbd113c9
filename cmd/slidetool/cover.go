package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"slidestream/internal/tiling"
)

var coverCmd = &cobra.Command{
	Use:   "cover <slide>",
	Short: "List the tiles covering a viewport, nearest to its center first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		level, _ := flags.GetInt("level")
		x, _ := flags.GetInt("x")
		y, _ := flags.GetInt("y")
		width, _ := flags.GetInt("width")
		height, _ := flags.GetInt("height")

		handle, err := openSlide(args[0])
		if err != nil {
			return err
		}
		defer handle.Close()

		if level < 0 || level >= handle.LevelCount() {
			return fmt.Errorf("level %d out of range [0,%d)", level, handle.LevelCount())
		}
		levelW, levelH, err := handle.LevelDimensions(level)
		if err != nil {
			return err
		}

		edge := viper.GetInt("tile-edge")
		rect := tiling.Rect{X: x, Y: y, Width: width, Height: height}
		for _, key := range tiling.CoveringTiles(handle.Identity(), level, levelW, levelH, edge, rect) {
			b := key.Bounds(edge, levelW, levelH)
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d/%d\t%d,%d %dx%d\n", key.Level, key.Row, key.Col, b.X, b.Y, b.Width, b.Height)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(coverCmd)

	coverCmd.Flags().Int("level", 0, "Pyramid level, 0 is full resolution")
	coverCmd.Flags().Int("x", 0, "Viewport left edge in level pixels")
	coverCmd.Flags().Int("y", 0, "Viewport top edge in level pixels")
	coverCmd.Flags().Int("width", 0, "Viewport width in level pixels")
	coverCmd.Flags().Int("height", 0, "Viewport height in level pixels")
}
