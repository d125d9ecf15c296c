package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func libraryCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "library",
		Short: "List the card library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			cards, err := a.client.Library(ctx, refresh)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return printJSON(cards)
			}
			if len(cards) == 0 {
				pterm.Info.Println("library is empty")
				return nil
			}

			data := pterm.TableData{{"CARD ID", "TITLE"}}
			for _, card := range cards {
				data = append(data, []string{card.ID, card.Title})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached listing")

	return cmd
}

func chaptersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chapters <card-id>",
		Short: "List the chapters of a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), a.timeout)
			defer cancel()

			if err := a.client.Connect(ctx); err != nil {
				return err
			}
			chapters, err := a.client.Chapters(ctx, args[0])
			if err != nil {
				return err
			}

			if a.jsonOut {
				return printJSON(chapters)
			}
			if len(chapters) == 0 {
				pterm.Info.Println("card has no chapters")
				return nil
			}

			data := pterm.TableData{{"KEY", "TITLE", "DURATION"}}
			for _, ch := range chapters {
				data = append(data, []string{ch.Key, ch.Title, formatDuration(ch.Duration)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
