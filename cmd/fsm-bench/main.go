package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "fsm-bench",
		Short: "FSM Bench - Conversational state-tracking benchmark",
		Long: `FSM Bench measures how well a conversational agent tracks the state of a
finite-state machine over long multi-turn dialogues. It generates random
machines, scripts action sequences, grades the agent's reported states and
keeps resumable per-turn checkpoints in SQLite.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
