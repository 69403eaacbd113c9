package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/cshum/vipsgen/vips"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"slidestream/internal/slide"
)

var rootCmd = &cobra.Command{
	Use:   "slidetool",
	Short: "Inspect slides and render tiles offline",
	Long: `slidetool reads slides with the same pyramid, tiling and encoding code as the
server, without running it.`,
	SilenceUsage: true,
}

var vipsOnce sync.Once

// openSlide is replaced in tests.
var openSlide = func(path string) (slide.Handle, error) {
	vipsOnce.Do(func() {
		vips.Startup(&vips.Config{ConcurrencyLevel: 1})
	})
	return slide.OpenVips(path, slide.OpenOptions{
		ScaleFactor:  viper.GetFloat64("scale-factor"),
		MinLevelEdge: viper.GetInt("tile-edge"),
	})
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().Int("tile-edge", 256, "Tile edge in pixels")
	rootCmd.PersistentFlags().Float64("scale-factor", 2, "Downsample between synthesized levels of flat images")
	mustBindPFlag("tile-edge", rootCmd.PersistentFlags().Lookup("tile-edge"))
	mustBindPFlag("scale-factor", rootCmd.PersistentFlags().Lookup("scale-factor"))
}

func initConfig() {
	viper.SetEnvPrefix("SLIDETOOL")
	viper.AutomaticEnv()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}

func main() {
	Execute()
}
