package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"autotrader/config"
	"autotrader/internal/ingest"
	"autotrader/internal/logger"
	"autotrader/internal/model"
	"autotrader/internal/replay"
	"autotrader/internal/robot"
	"autotrader/internal/store/sqlite"
)

var (
	historyPath string
	replayDB    string
	replayFrom  int64
	replaySpeed float64
	printRows   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical bars through the rule set and print the signals",
	Long: `Replays bars from a historical JSON file (--history) or from the
SQLite bar table (--db), one timestamp at a time, and prints every signal
as a JSON line on stdout.

Example:
  robot replay --history msft.json --rules rules.yaml
  robot replay --db data/robot.db --from 1700000000000 --rules rules.yaml --rows`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&historyPath, "history", "", "historical bars JSON file")
	replayCmd.Flags().StringVar(&replayDB, "db", "", "SQLite database to read bars from")
	replayCmd.Flags().Int64Var(&replayFrom, "from", -1, "with --db, only bars after this epoch-ms timestamp")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "playback speed multiplier (0=max, 1=realtime)")
	replayCmd.Flags().BoolVar(&printRows, "rows", false, "print each instrument's final row after the signals")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	if rulesPath == "" {
		return fmt.Errorf("--rules is required")
	}
	if (historyPath == "") == (replayDB == "") {
		return fmt.Errorf("exactly one of --history or --db is required")
	}

	level := logLevel
	if level == "" {
		level = "warn"
	}
	lg := logger.InitWithOptions("robot-replay", level, logger.Options{Format: "console", Out: os.Stderr})

	rs, err := config.LoadRuleSet(rulesPath)
	if err != nil {
		return err
	}
	bars, err := loadReplayBars()
	if err != nil {
		return err
	}

	session := robot.New(robot.Options{Logger: lg})
	if err := session.ApplyRuleSet(rs.Indicators, rs.Rules); err != nil {
		return err
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	st, err := replay.New(session, replaySpeed, lg).Run(cmd.Context(), bars, func(ev model.SignalEvent) error {
		return out.Encode(ev)
	})
	if err != nil {
		return err
	}

	if printRows {
		for _, inst := range session.Instruments() {
			row, ok, err := session.Latest(inst)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := out.Encode(row); err != nil {
				return err
			}
		}
	}
	lg.Info().Int("bars", st.Bars).Int("steps", st.Steps).Int("signals", st.Signals).Msg("done")
	return nil
}

func loadReplayBars() ([]model.Bar, error) {
	if historyPath != "" {
		data, err := os.ReadFile(historyPath)
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
		return ingest.ParseHistorical(data)
	}

	reader, err := sqlite.NewReader(replayDB)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.ReadAllBars(replayFrom)
}
