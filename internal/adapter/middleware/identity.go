package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"p2plend/internal/domain/party"
)

// HeaderWalletAddress carries the caller's wallet address.
const HeaderWalletAddress = "Ax-Wallet-Address"

const walletContextKey = "ax.wallet"

var ErrMissingWallet = errors.New("missing " + HeaderWalletAddress)

// WalletIdentity checksums the Ax-Wallet-Address header and keeps it on the
// context. A missing header passes through; an invalid one is rejected.
func WalletIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(HeaderWalletAddress))
			if raw == "" {
				return next(c)
			}
			addr, err := party.NormalizeAddress(raw)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid " + HeaderWalletAddress})
			}
			c.Set(walletContextKey, addr)
			return next(c)
		}
	}
}

// WalletFrom returns the caller address set by WalletIdentity, or "".
func WalletFrom(c echo.Context) string {
	if v, ok := c.Get(walletContextKey).(string); ok {
		return v
	}
	return ""
}

// CallerWallet prefers the value WalletIdentity stored and falls back to the
// raw header when the middleware is not mounted.
func CallerWallet(c echo.Context) (string, error) {
	if addr := WalletFrom(c); addr != "" {
		return addr, nil
	}
	raw := strings.TrimSpace(c.Request().Header.Get(HeaderWalletAddress))
	if raw == "" {
		return "", ErrMissingWallet
	}
	return party.NormalizeAddress(raw)
}
