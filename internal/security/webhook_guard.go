// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// WebhookGuard はWebhook送信先をSSRFから守るインターフェース。
// 設定読み込み時のURL検証と、配信時のHTTPクライアント生成の両方で使用される。
type WebhookGuard interface {
	// NewSafeClient は内部アドレスへの接続をDNS解決後に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL は送信先URLを静的に検証する。
	ValidateURL(rawURL string) error
}

// DefaultWebhookPorts はポート指定がない場合に許可する送信先ポート。
var DefaultWebhookPorts = []int{80, 443}

var webhookSchemes = []string{"http", "https"}

// blockedPrefixes は送信先として拒否するアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIP 169.254.169.254 を含む
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

type webhookGuard struct {
	ports []int
}

// NewWebhookGuard はWebhookGuardを生成する。
// ports を省略した場合は DefaultWebhookPorts のみを許可する。
func NewWebhookGuard(ports ...int) WebhookGuard {
	if len(ports) == 0 {
		ports = DefaultWebhookPorts
	}
	return &webhookGuard{ports: slices.Clone(ports)}
}

func (g *webhookGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(webhookSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決前の静的チェックを行う。
// DNS再バインディングは NewSafeClient 側で防ぐ。
func (g *webhookGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(webhookSchemes, scheme) {
		return fmt.Errorf("disallowed scheme %q (allowed: %v)", u.Scheme, webhookSchemes)
	}
	// 認証情報付きURLはログに残るため受け付けない
	if u.User != nil {
		return errors.New("credentials in URL are not allowed")
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	port, err := effectivePort(u, scheme)
	if err != nil {
		return err
	}
	if !slices.Contains(g.ports, port) {
		return fmt.Errorf("disallowed port %d (allowed: %v)", port, g.ports)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// ValidateURLs は全URLを検証し、最初に見つかった不正なURLのエラーを返す。
func ValidateURLs(guard WebhookGuard, rawURLs []string) error {
	for _, u := range rawURLs {
		if err := guard.ValidateURL(u); err != nil {
			return fmt.Errorf("webhook URL %q rejected: %w", u, err)
		}
	}
	return nil
}

func effectivePort(u *url.URL, scheme string) (int, error) {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return n, nil
	}
	if scheme == "https" {
		return 443, nil
	}
	return 80, nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
