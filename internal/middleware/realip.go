package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

// NewRealIPMiddleware は直接の接続元が信頼済みプロキシの場合に限り、
// 転送ヘッダーからクライアントIPを取り出してRemoteAddrを書き換えるミドルウェアを返す。
//
// X-Forwarded-Forは右端から走査し、最初の信頼済みでないアドレスを採用する。
// X-Forwarded-Forが無い場合はX-Real-IPを使う。
// trustedが空の場合は転送ヘッダーを一切参照しない。
func NewRealIPMiddleware(trusted []netip.Prefix) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := forwardedClientIP(r, trusted); ok {
				r.RemoteAddr = ip.String()
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClientIP(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, err := netip.ParseAddr(ClientIP(r))
	if err != nil || !containsAddr(trusted, peer.Unmap()) {
		return netip.Addr{}, false
	}

	if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
		hops := strings.Split(strings.Join(values, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return netip.Addr{}, false
			}
			addr = addr.Unmap()
			if !containsAddr(trusted, addr) {
				return addr, true
			}
		}
		return netip.Addr{}, false
	}

	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return netip.Addr{}, false
		}
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
