// cmd/client/cmd/login.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	"clinisync/internal/app/client"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Сохранить токен доступа",
	Long: `Сохраняет токен доступа, выданный сервером CliniSync.

Токен используется всеми последующими командами. Выдачей токенов занимается
администратор клиники.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Println("=== Вход в систему ===")
		fmt.Println()

		// Запрашиваем токен без эха
		fmt.Print("Токен доступа: ")
		token, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("ошибка чтения токена: %w", err)
		}
		fmt.Println()

		if strings.TrimSpace(string(token)) == "" {
			return fmt.Errorf("токен не может быть пустым")
		}

		if err := client.SaveToken(cfg.TokenPath, string(token)); err != nil {
			return err
		}

		fmt.Println("✓ Токен сохранен")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
