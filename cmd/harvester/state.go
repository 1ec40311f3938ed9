package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blockedby/channel-harvester/internal/telegram"
)

var stateResetAll bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset saved channel positions",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved channel positions",
	Args:  cobra.NoArgs,
	RunE:  stateList,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [channel...]",
	Short: "Forget saved positions so the next run starts from the newest message",
	RunE:  stateReset,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd, stateResetCmd)
	stateResetCmd.Flags().BoolVar(&stateResetAll, "all", false, "reset every channel")
}

func stateList(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cursors, err := openState(cfg)
	if err != nil {
		return err
	}

	states, err := cursors.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no saved positions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tLAST SEEN\tCOLLECTED\tLIMIT\tDONE\tUPDATED")
	for _, st := range states {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\t%s\n",
			st.Channel,
			st.LastSeenID,
			humanize.Comma(int64(st.Collected)),
			humanize.Comma(int64(st.Limit)),
			st.Terminal,
			humanize.Time(st.UpdatedAt),
		)
	}
	return w.Flush()
}

func stateReset(cmd *cobra.Command, args []string) error {
	if !stateResetAll && len(args) == 0 {
		return fmt.Errorf("name at least one channel or pass --all")
	}

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cursors, err := openState(cfg)
	if err != nil {
		return err
	}

	if stateResetAll {
		if err := cursors.ResetAll(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("all channel positions reset")
		return nil
	}

	for _, ch := range args {
		key := telegram.NormalizeIdentifier(ch)
		if err := cursors.Reset(cmd.Context(), key); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
		log.Info().Str("channel", key).Msg("channel position reset")
	}
	return nil
}
