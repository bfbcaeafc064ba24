// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// EgressGuard はGoogleエンドポイントへの外向きHTTP通信を制限する。
// 許可ホスト以外への接続に加え、safeurlのデフォルト設定により
// プライベートIP・ループバック・リンクローカル・メタデータIPへの接続を
// クライアントレベルでブロックする。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
type EgressGuard struct {
	allowedHosts []string
}

// allowedSchemes は外向き通信で許可されるURLスキーム。
var allowedSchemes = []string{"https"}

// NewEgressGuard は指定エンドポイントURLのホストのみを許可するEgressGuardを生成する。
// endpointURLsにはGoogleの認証・トークン・userinfo・Drive APIのURLを渡す。
// 空文字列のURLは無視する。
func NewEgressGuard(endpointURLs ...string) (*EgressGuard, error) {
	hosts := make([]string, 0, len(endpointURLs))
	seen := make(map[string]bool)

	for _, raw := range endpointURLs {
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint URL %q: %w", raw, err)
		}
		host := parsed.Hostname()
		if host == "" {
			return nil, fmt.Errorf("empty host in endpoint URL: %s", raw)
		}
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("no endpoint hosts to allow")
	}

	return &EgressGuard{allowedHosts: hosts}, nil
}

// AllowedHosts は許可ホストの一覧を返す。テストおよびログ用。
func (g *EgressGuard) AllowedHosts() []string {
	return g.allowedHosts
}

// NewSafeClient は外向き通信制限付きのHTTPクライアントを生成する。
// safeurlの設定により以下がブロックされる:
//   - 許可ホスト以外へのリクエスト
//   - プライベートIPアドレス (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)
//   - ループバックアドレス (127.0.0.0/8, ::1)
//   - リンクローカルアドレス (169.254.0.0/16, fe80::/10)
//   - メタデータIPアドレス (169.254.169.254)
func (g *EgressGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(443).
		SetAllowedHosts(g.allowedHosts...).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateEndpointURL はエンドポイントオーバーライドURLの形式を起動時に検証する。
// DNS解決を伴わない静的な検証のみを行う。
// 開発環境でのオーバーライドを考慮し、スキームはhttpも許可する。
func ValidateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %s", scheme)
	}

	if parsed.Hostname() == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	return nil
}
