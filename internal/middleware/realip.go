package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// NewTrustedProxyMiddleware は接続元が信頼済みプロキシの場合に限り、
// X-Forwarded-For / X-Real-IP からクライアントIPを復元してRemoteAddrに設定する。
// それ以外の接続元から届いた転送ヘッダーは無視する。trustedが空なら何もしない。
//
// X-Forwarded-Forは右端から辿り、信頼済みプロキシでない最初のアドレスを採用する。
func NewTrustedProxyMiddleware(trusted []netip.Prefix) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, err := netip.ParseAddr(ClientIP(r))
			if err == nil && isTrustedProxy(peer.Unmap(), trusted) {
				if ip, ok := forwardedClientIP(r.Header, trusted); ok {
					r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClientIP は転送ヘッダーからクライアントIPを取り出す。
func forwardedClientIP(h http.Header, trusted []netip.Prefix) (netip.Addr, bool) {
	var hops []netip.Addr
	for _, v := range h.Values("X-Forwarded-For") {
		for _, part := range strings.Split(v, ",") {
			addr, err := netip.ParseAddr(strings.TrimSpace(part))
			if err != nil {
				// 不正な要素より左は偽装され得るため採用しない
				hops = hops[:0]
				continue
			}
			hops = append(hops, addr.Unmap())
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !isTrustedProxy(hops[i], trusted) {
			return hops[i], true
		}
	}
	if len(hops) > 0 {
		return hops[0], true
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(h.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

func isTrustedProxy(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
