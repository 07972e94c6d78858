package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultHealthcheckPort = "8080"
	healthcheckTimeout     = 5 * time.Second
)

// runHealthcheck はローカルで起動中のゲートウェイの /health を確認する。
// 200かつstatusが"ok"の場合のみ成功とする。
func runHealthcheck(port string) error {
	if port == "" {
		port = defaultHealthcheckPort
	}

	client := &http.Client{Timeout: healthcheckTimeout}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("health check returned an unreadable body: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("health check reported %q", body.Status)
	}

	return nil
}

// redactDatabaseURL はログ出力用にDB URLのパスワードを伏せる。
// 解析できないURLは丸ごと伏せる。
func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
