// Package security は生成バックエンドへの外部送信を保護する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は外部送信で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// allowedPorts は保護付きクライアントが接続を許可するポート。
var allowedPorts = []int{80, 443}

// blockedNetworks は外部送信先として拒否するネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル。クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames は外部送信先として拒否するホスト名。
var blockedHostnames = []string{
	"localhost",
}

// EgressGuard は生成バックエンドのエンドポイント検証とHTTPクライアント生成を行う。
// allowPrivate が true の場合はローカルやプライベートネットワーク上の
// OpenAI互換サーバーへの接続を許可する。
type EgressGuard struct {
	allowPrivate bool
}

// NewEgressGuard はEgressGuardの新しいインスタンスを生成する。
func NewEgressGuard(allowPrivate bool) *EgressGuard {
	return &EgressGuard{allowPrivate: allowPrivate}
}

// AllowsPrivate はプライベートネットワークへの接続を許可しているかを返す。
func (g *EgressGuard) AllowsPrivate() bool {
	return g.allowPrivate
}

// NewClient は生成バックエンド用のHTTPクライアントを生成する。
// 通常はsafeurlにより、DNS解決後のIPアドレスがプライベート、ループバック、
// リンクローカル、メタデータIPの場合に接続を拒否する。
// safeurlはnet.DialerのControlフックで検証するため、DNS再バインディングにも対応する。
func (g *EgressGuard) NewClient(timeout time.Duration) *http.Client {
	if g.allowPrivate {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint は設定されたエンドポイントURLを起動時に静的に検証する。
// DNS解決後の検証はNewClientが生成するクライアント側で行われる。
func (g *EgressGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if g.allowPrivate {
		return nil
	}

	if port := parsed.Port(); port != "" && !isAllowedPort(port) {
		return fmt.Errorf("disallowed port: %s (allowed: %v)", port, allowedPorts)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isAllowedPort(port string) bool {
	for _, allowed := range allowedPorts {
		if port == fmt.Sprint(allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
