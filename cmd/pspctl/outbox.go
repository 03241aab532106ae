package main

import (
	"fmt"

	"pspgateway/internal/model"
	"pspgateway/internal/repository"

	"github.com/spf13/cobra"
)

func outboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "统计 outbox 消息投递状态",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.close()

			repo := repository.NewOutboxRepository(e.db)
			for _, status := range []string{model.OutboxStatusPending, model.OutboxStatusSent, model.OutboxStatusFailed} {
				count, err := repo.CountByStatus(cmd.Context(), status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d\n", status, count)
			}
			return nil
		},
	}
}
