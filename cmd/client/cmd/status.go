// cmd/client/cmd/status.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusBatchID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Показать состояние синхронизации",
	Long: `Показывает локальную очередь, контрольную точку и состояние
устройства на сервере. С флагом --batch запрашивает статус конкретного
пакета.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if statusBatchID != "" {
			return showBatchStatus(cmd, statusBatchID)
		}

		info, err := app.Status(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			out, _ := json.MarshalIndent(info, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		fmt.Println("=== Статус синхронизации ===")
		fmt.Printf("Устройство: %s\n", info.DeviceID)
		fmt.Printf("Операций в локальной очереди: %d\n", info.PendingLocal)
		if info.LastSync.IsZero() {
			fmt.Println("Последняя синхронизация: никогда")
		} else {
			fmt.Printf("Последняя синхронизация: %s\n", info.LastSync.Format("2006-01-02 15:04:05"))
		}

		fmt.Print("Сервер: ")
		if info.Server == nil {
			color.Red("недоступен")
			return nil
		}
		color.Green("доступен")
		fmt.Printf("  Необработанных пакетов: %d\n", info.Server.PendingBatches)
		fmt.Printf("  Сопоставлений идентификаторов: %d\n", info.Server.TotalMappings)
		if info.Server.LastSync != nil {
			fmt.Printf("  Последняя успешная обработка: %s\n",
				info.Server.LastSync.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func showBatchStatus(cmd *cobra.Command, batchID string) error {
	status, err := app.BatchStatus(cmd.Context(), batchID)
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Пакет: %s\n", status.BatchID)
	fmt.Printf("Статус: %s\n", status.Status)
	fmt.Printf("Операций: %d\n", status.OperationCount)
	if status.Result != nil {
		fmt.Printf("Применено: %d, конфликтов: %d, ошибок: %d\n",
			status.Result.AppliedCount, status.Result.ConflictsCount, status.Result.ErrorsCount)
	}
	if status.ErrorMessage != "" {
		color.Red("Ошибка: %s", status.ErrorMessage)
	}
	if status.ProcessedAt != nil {
		fmt.Printf("Обработан: %s\n", status.ProcessedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func init() {
	statusCmd.Flags().StringVar(&statusBatchID, "batch", "", "идентификатор пакета")
	rootCmd.AddCommand(statusCmd)
}
