// cmd/client/cmd/sync.go
package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"clinisync/internal/domain/sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	syncWait    bool
	syncTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Отправить накопленные операции на сервер",
	Long: `Отправляет локальную очередь операций на сервер одним пакетом.

Небольшие пакеты обрабатываются сразу, крупные ставятся сервером в очередь.
Флаг --wait дожидается завершения обработки отложенного пакета.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Println("=== Синхронизация данных ===")
		start := time.Now()

		outcome, err := app.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка синхронизации: %w", err)
		}
		if outcome == nil {
			fmt.Println("Очередь пуста, отправлять нечего.")
			return nil
		}

		if jsonOutput {
			out, _ := json.MarshalIndent(outcome, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		if outcome.Queued != nil {
			color.Yellow("Пакет %s принят в очередь (%d операций)",
				outcome.Queued.BatchID, outcome.Queued.OperationCount)
			if !syncWait {
				fmt.Println("Проверить статус: clinisync status --batch", outcome.Queued.BatchID)
				return nil
			}

			fmt.Println("Ожидание обработки...")
			status, err := app.WaitForBatch(cmd.Context(), outcome.Queued.BatchID.String(), syncTimeout)
			if err != nil {
				return err
			}
			printBatchStatus(status.Status, status.Result, status.ErrorMessage)
			return nil
		}

		result := outcome.Result
		duration := time.Since(start)

		fmt.Println()
		color.Green("✅ Синхронизация завершена за %v", duration.Round(time.Millisecond))
		fmt.Printf("Применено операций: %d\n", len(result.Applied))

		if len(result.Conflicts) > 0 {
			color.Yellow("Конфликтов: %d", len(result.Conflicts))
			for _, c := range result.Conflicts {
				fmt.Printf("  • %s/%s (%s): %s\n", c.Entity, c.LocalID, c.Action, c.Reason)
				if c.ServerVersion != nil {
					sv, _ := json.Marshal(c.ServerVersion)
					fmt.Printf("    версия сервера: %s\n", sv)
				}
			}
		}

		if len(result.Errors) > 0 {
			color.Red("Ошибок: %d", len(result.Errors))
			for i, e := range result.Errors {
				if i < 3 { // Показываем только первые 3 ошибки
					fmt.Printf("  • %s/%s: %s\n", e.Entity, e.LocalID, e.Error)
				}
			}
			if len(result.Errors) > 3 {
				fmt.Printf("  ... и еще %d ошибок\n", len(result.Errors)-3)
			}
		}

		if len(result.Updates) > 0 {
			fmt.Printf("Получено изменений с сервера: %d\n", len(result.Updates))
		}
		fmt.Printf("Контрольная точка: %s\n", result.ServerTime.Format("2006-01-02 15:04:05"))

		return nil
	},
}

func printBatchStatus(status sync.BatchStatus, result *sync.BatchResult, errMsg string) {
	switch status {
	case sync.StatusCompleted:
		color.Green("✅ Пакет обработан полностью")
	case sync.StatusPartial:
		color.Yellow("⚠️  Пакет обработан частично")
	default:
		color.Red("❌ Обработка пакета не удалась")
	}
	if result != nil {
		fmt.Printf("Применено: %d, конфликтов: %d, ошибок: %d\n",
			result.AppliedCount, result.ConflictsCount, result.ErrorsCount)
	}
	if errMsg != "" {
		fmt.Printf("Ошибка: %s\n", errMsg)
	}
}

func init() {
	syncCmd.Flags().BoolVar(&syncWait, "wait", false, "дождаться обработки отложенного пакета")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 5*time.Minute, "максимальное время ожидания")
	rootCmd.AddCommand(syncCmd)
}
