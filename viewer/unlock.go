package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

var ErrUnlockRejected = errors.New("viewer: unlock rejected")

type unlockResponse struct {
	Result    string `json:"result"`
	Message   string `json:"message"`
	Token     string `json:"token"`
	LeftTries int    `json:"leftTries"`
}

// Unlock trades the server PIN for an access token.
func Unlock(ctx context.Context, base, pin string) (string, error) {
	body, err := json.Marshal(map[string]string{"pin": pin})
	if err != nil {
		return "", err
	}
	target := strings.TrimRight(base, "/") + "/api/unlock"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("unlock: %w", err)
	}
	defer resp.Body.Close()

	var out unlockResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("unlock: HTTP %d: %w", resp.StatusCode, err)
	}
	if out.Result != "success" || out.Token == "" {
		return "", fmt.Errorf("%w: %s (%d tries left)", ErrUnlockRejected, out.Message, out.LeftTries)
	}
	return out.Token, nil
}
