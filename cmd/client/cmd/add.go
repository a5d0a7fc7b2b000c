// cmd/client/cmd/add.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	addAction  string
	addLocalID string
	addFile    string
)

var addCmd = &cobra.Command{
	Use:   "add <entity> [json-data]",
	Short: "Добавить операцию в локальную очередь",
	Long: `Записывает одну операцию в локальную очередь синхронизации.

Сущности: patient, appointment, record, dental_chart, prenatal_visit,
ophthalmic_exam. Данные передаются как JSON аргументом или файлом (--file).

Примеры:
  clinisync add patient '{"first_name":"Ana","last_name":"Torres","dni":"12345678"}'
  clinisync add appointment --file visit.json
  clinisync add patient --action update --local-id p-17 '{"id":"p-17","phone":"+51..."}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity := args[0]

		var data []byte
		switch {
		case addFile != "":
			var err error
			data, err = os.ReadFile(addFile)
			if err != nil {
				return fmt.Errorf("ошибка чтения файла данных: %w", err)
			}
		case len(args) == 2:
			data = []byte(args[1])
		default:
			return fmt.Errorf("укажите данные операции аргументом или через --file")
		}

		localID, err := app.QueueOperation(entity, addAction, addLocalID, json.RawMessage(data))
		if err != nil {
			return err
		}

		if jsonOutput {
			out, _ := json.Marshal(map[string]string{"local_id": localID, "entity": entity, "action": addAction})
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("✓ Операция поставлена в очередь (local_id: %s)\n", localID)
		fmt.Println("Выполните 'clinisync sync' для отправки на сервер.")
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addAction, "action", "create", "действие: create или update")
	addCmd.Flags().StringVar(&addLocalID, "local-id", "", "локальный идентификатор (для update обязателен)")
	addCmd.Flags().StringVar(&addFile, "file", "", "файл с JSON-данными операции")
	rootCmd.AddCommand(addCmd)
}
