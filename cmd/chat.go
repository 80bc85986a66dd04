package cmd

import (
	"context"
	"fmt"

	"github.com/abhisek/sensei/internal/chat"
	"github.com/abhisek/sensei/internal/session"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <user> <goal>",
	Short: "Start a tutoring session in the terminal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := session.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		rt, err := buildRuntime(cmd, buildOptions{requireLLM: true, quiet: true})
		if err != nil {
			return err
		}
		defer rt.close(context.Background())

		ctx := cmd.Context()
		goal, err := rt.store.GoalRepo().Goal(ctx, args[1])
		if err != nil {
			return fmt.Errorf("load goal: %w", err)
		}

		return chat.Run(ctx, rt.orch, chat.Options{
			UserID:            args[0],
			GoalID:            goal.ID,
			GoalTitle:         goal.Title,
			Mode:              mode,
			Threshold:         rt.gate.Threshold(),
			MaxUtteranceRunes: rt.cfg.Tutoring.MaxUtteranceRunes,
		})
	},
}

func init() {
	chatCmd.Flags().String("mode", string(session.ModeFreeChoice), "Session mode: free_choice or guided")
}
