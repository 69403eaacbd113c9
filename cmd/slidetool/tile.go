package main

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"slidestream/internal/decoder"
	"slidestream/internal/encoding"
	"slidestream/internal/slide"
	"slidestream/internal/tiling"
)

// oneSlide resolves only the slide it wraps.
type oneSlide struct {
	slide.Handle
}

func (s oneSlide) Resolve(id slide.Identity) (slide.Handle, error) {
	if id != s.Identity() {
		return nil, &slide.OpenError{Path: id.Path, Err: fmt.Errorf("not the open slide")}
	}
	return s.Handle, nil
}

var tileCmd = &cobra.Command{
	Use:   "tile <slide>",
	Short: "Decode and encode one tile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		level, _ := flags.GetInt("level")
		row, _ := flags.GetInt("row")
		col, _ := flags.GetInt("col")
		out, _ := flags.GetString("out")

		codec, err := encoding.NewCodec(viper.GetString("format"), viper.GetInt("quality"))
		if err != nil {
			return err
		}

		handle, err := openSlide(args[0])
		if err != nil {
			return err
		}
		defer handle.Close()

		edge := viper.GetInt("tile-edge")
		key := tiling.TileKey{Slide: handle.Identity(), Level: level, Row: row, Col: col}
		px, err := decoder.New(oneSlide{handle}, edge).Decode(key)
		if err != nil {
			return err
		}
		data, err := codec.Encode(px)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}

		if out == "" {
			out = fmt.Sprintf("%d_%d_%d.%s", level, row, col, codec.Format())
		}
		if out == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := atomic.WriteFile(out, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", out, humanize.IBytes(uint64(len(data))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tileCmd)

	tileCmd.Flags().Int("level", 0, "Pyramid level")
	tileCmd.Flags().Int("row", 0, "Tile row")
	tileCmd.Flags().Int("col", 0, "Tile column")
	tileCmd.Flags().StringP("out", "o", "", "Output file, - for stdout (default level_row_col.format)")
	tileCmd.Flags().String("format", "jpeg", "Tile format: jpeg, png, webp or raw")
	tileCmd.Flags().Int("quality", 82, "Encoder quality for lossy formats")

	mustBindPFlag("format", tileCmd.Flags().Lookup("format"))
	mustBindPFlag("quality", tileCmd.Flags().Lookup("quality"))
}
