package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"miyav/internal/api"
	"miyav/internal/config"
	"miyav/internal/models"
	"net/http"
	"os"
)

// Notify sends a system notification through the admin API of a running server.
// An empty userIDs list targets every connected user.
func Notify(cfg *config.Config, userIDs []string, title, message string) error {
	return notify(os.Stdout, "http://"+cfg.AdminAddr, userIDs, title, message)
}

func notify(out io.Writer, baseURL string, userIDs []string, title, message string) error {
	reqBody, err := json.Marshal(api.NotifyRequest{UserIDs: userIDs, Title: title, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(baseURL+"/admin/notify", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to send notification (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	_, err = fmt.Fprintln(out, result.Message)
	return err
}
