package main

import (
	"fmt"

	"github.com/kiennt/alpaca-playground/internal/completion"
	"github.com/kiennt/alpaca-playground/internal/connectors/poe"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the chat context of agents",
	Long:  `Sends a message break to each agent's chat so the next run starts without earlier conversation.`,
	RunE:  runReset,
}

var resetAgents []string

func init() {
	resetCmd.Flags().StringSliceVar(&resetAgents, "agent", nil, "Agents to reset (default: all configured agents)")
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}
	agents := resetAgents
	if len(agents) == 0 {
		agents = cfg.Agents
	}

	transport := poe.New(cfg.FormKey, cfg.Cookie, poe.WithEndpoint(cfg.Endpoint))
	opts := cfg.Completion()

	var failed int
	for _, agent := range agents {
		client := completion.New(agent, transport, opts)
		if err := client.Reset(cmd.Context()); err != nil {
			fmt.Printf("%s %s: %v\n", yellow("failed"), agent, err)
			failed++
			continue
		}
		fmt.Printf("%s %s (bot %s, chat %d)\n", green("reset"), agent, client.Bot(), client.ChatID())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d agents could not be reset", failed, len(agents))
	}
	return nil
}
