package middleware

import (
	"context"
	"net"
	"net/http"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/pkg/errors"
	"pulse-api/pkg/logger"
)

// VoterTokenHeader lets API clients present the handle without cookies
const VoterTokenHeader = "X-Voter-Token"

// HandleResolver resolves or mints voter handles
type HandleResolver interface {
	EnsureHandle(ctx context.Context, presented, origin string) (*domain.VoterHandle, bool, error)
	EncodeToken(token string) (string, error)
}

// VoterCookieConfig describes the handle cookie
type VoterCookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Voter resolves the caller's anonymous handle from the cookie or the
// X-Voter-Token header, minting one when none is valid, and stores it in
// the request context. A fresh handle is written back as a cookie and in
// the response header.
func Voter(identity HandleResolver, cookie VoterCookieConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(VoterTokenHeader)
			if presented == "" {
				if c, err := r.Cookie(cookie.Name); err == nil {
					presented = c.Value
				}
			}

			handle, created, err := identity.EnsureHandle(r.Context(), presented, ClientIP(r))
			if err != nil {
				writeErrorResponse(w, r, errors.FromDomain(err), log)
				return
			}

			if created {
				signed, err := identity.EncodeToken(handle.Token)
				if err != nil {
					writeErrorResponse(w, r, errors.NewInternalError("Could not issue voter handle", err), log)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     cookie.Name,
					Value:    signed,
					Path:     "/",
					MaxAge:   int(cookie.TTL.Seconds()),
					HttpOnly: true,
					Secure:   cookie.Secure,
					SameSite: http.SameSiteLaxMode,
				})
				w.Header().Set(VoterTokenHeader, signed)
			}

			next.ServeHTTP(w, r.WithContext(WithVoter(r.Context(), handle, created)))
		})
	}
}

// ClientIP returns the request's remote host without the port. Behind a
// proxy it relies on chi's RealIP having rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
