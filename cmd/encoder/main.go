// Command encoder is the out-of-process encoder the in-game capturer spawns
// at init. It takes one positional argument, the name of the shared-memory
// mapping it inherits, serves the event loop until the game goes away, and
// exits.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NOT-REAL-GAMES/moviecap/encoder"
	"github.com/NOT-REAL-GAMES/moviecap/gamelog"
)

var selftest bool

var rootCmd = &cobra.Command{
	Use:   "moviecap-encoder <shm-name>",
	Short: "Out-of-process movie encoder",
	Long: `moviecap-encoder is spawned by the in-game capturer with one positional
argument: the name of the shared-memory mapping both processes communicate
through. It is not meant to be started by hand.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if selftest {
			return nil
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if selftest {
			return encoder.Selftest()
		}

		log, err := gamelog.New("", nil)
		if err != nil {
			return err
		}

		enc, err := encoder.New(log, args[0])
		if err != nil {
			return fmt.Errorf("attach to %q: %w", args[0], err)
		}
		defer enc.Close()

		return enc.Run()
	},
}

func init() {
	rootCmd.Flags().BoolVar(&selftest, "selftest", false, "load the codec tables and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
