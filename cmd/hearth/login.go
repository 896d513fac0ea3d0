package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials for background sync",
	Long: `Login persists the identity and access token the sync worker uses.
The token is obtained from your household's server (account settings
page) and prompted for if not passed as a flag.`,
	Example: `  hearth login --user user-42 --household house-7
  hearth login --user user-42 --household house-7 --token <token>`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE:  runLogout,
}

var (
	loginUser      string
	loginHousehold string
	loginToken     string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "",
		"User id (required)")
	loginCmd.Flags().StringVar(&loginHousehold, "household", "",
		"Household id (required)")
	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "",
		"Access token (will prompt if not provided)")

	_ = loginCmd.MarkFlagRequired("user")
	_ = loginCmd.MarkFlagRequired("household")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginToken == "" {
		var err error
		loginToken, err = promptSecret("Access token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}

	if err := apiClient.Auth.SignIn(loginUser, loginHousehold, loginToken); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{"success": false, "error": err.Error()})
		} else {
			printError("Login failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "user": loginUser})
	} else {
		printInfo("Logged in as %s", loginUser)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := apiClient.Auth.SignOut(); err != nil {
		printError("Logout failed: %v", err)
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printInfo("Logged out")
	}
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(value), nil
}
