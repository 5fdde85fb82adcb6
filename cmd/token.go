package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"
)

// runYouTubeToken runs the installed-app OAuth flow and stores the token in
// the format the YouTube uploader reads.
func runYouTubeToken(cmd *cobra.Command, _ []string) error {
	credentials, _ := cmd.Flags().GetString("credentials")
	tokenPath, _ := cmd.Flags().GetString("token")
	out := cmd.OutOrStdout()

	b, err := os.ReadFile(credentials)
	if err != nil {
		return fmt.Errorf("read credentials (create a Desktop OAuth client in Google Cloud Console): %w", err)
	}
	config, err := google.ConfigFromJSON(b, youtube.YoutubeUploadScope, youtube.YoutubeScope)
	if err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}

	fmt.Fprintln(out, "📱 Open this URL in your browser:")
	fmt.Fprintf(out, "   %s\n\n", config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce))
	fmt.Fprint(out, "👉 Code: ")

	code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && strings.TrimSpace(code) == "" {
		return fmt.Errorf("read auth code: %w", err)
	}
	token, err := config.Exchange(cmd.Context(), strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("no refresh token returned; revoke the app's access and retry")
	}

	if dir := filepath.Dir(tokenPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tokenPath, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(out, "✅ Token saved to %s\n", tokenPath)
	return nil
}
