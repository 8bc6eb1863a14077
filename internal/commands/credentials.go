package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/pkg/models"
)

// credentialsCmd represents the credentials command group
var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage broker credentials stored on the backend",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored broker credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := backendClient()
		if err != nil {
			return err
		}

		creds, err := client.ListCredentials(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBROKER\tAPI KEY\tCONNECTED\tEXPIRES")
		for _, c := range creds {
			expires := "-"
			if !c.ExpiresAt.IsZero() {
				expires = c.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", c.ID, c.Broker, c.APIKeyMasked, c.Connected, expires)
		}
		return w.Flush()
	},
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <broker> <api-key> <api-secret>",
	Short: "Store a new broker credential",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := backendClient()
		if err != nil {
			return err
		}

		cred, err := client.SaveCredential(context.Background(), models.SaveCredentialRequest{
			Broker:    args[0],
			APIKey:    args[1],
			APISecret: args[2],
		})
		if err != nil {
			return err
		}
		fmt.Printf("stored credential %s for %s (%s)\n", cred.ID, cred.Broker, cred.APIKeyMasked)
		return nil
	},
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a stored broker credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := backendClient()
		if err != nil {
			return err
		}
		if err := client.DeleteCredential(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("credential removed")
		return nil
	},
}

var credentialsOAuthCmd = &cobra.Command{
	Use:   "oauth <broker>",
	Short: "Start or inspect the broker OAuth handshake",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := backendClient()
		if err != nil {
			return err
		}
		broker := args[0]

		refresh, _ := cmd.Flags().GetBool("refresh")
		statusOnly, _ := cmd.Flags().GetBool("status")

		var session *models.OAuthSession
		switch {
		case refresh:
			session, err = client.RefreshOAuth(context.Background(), broker)
		case statusOnly:
			session, err = client.OAuthStatus(context.Background(), broker)
		default:
			session, err = client.InitiateOAuth(context.Background(), broker)
		}
		if err != nil {
			return err
		}

		fmt.Printf("broker: %s  status: %s\n", session.Broker, session.Status)
		if session.LoginURL != "" {
			fmt.Printf("login at: %s\n", session.LoginURL)
		}
		if !session.ExpiresAt.IsZero() {
			fmt.Printf("expires: %s\n", session.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	credentialsCmd.AddCommand(credentialsOAuthCmd)

	credentialsOAuthCmd.Flags().Bool("refresh", false, "Refresh the existing session")
	credentialsOAuthCmd.Flags().Bool("status", false, "Only report the session status")
}

// backendClient builds a REST client without the full watcher stack.
func backendClient() (*api.Client, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(&cfg.Backend, log), nil
}
