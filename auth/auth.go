// Package auth guards the control endpoints with HTTP basic auth.
package auth

import (
	"crypto/subtle"
	"net/http"
)

// Authenticator checks configured credentials. With no credentials set
// the control endpoints are open, which is the usual setup on an
// isolated station network.
type Authenticator struct {
	username string
	password string
}

// New creates an authenticator. Empty credentials disable the check.
func New(username, password string) *Authenticator {
	return &Authenticator{username: username, password: password}
}

// Enabled reports whether credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Authenticate checks one username/password pair in constant time.
func (a *Authenticator) Authenticate(username, password string) bool {
	if !a.Enabled() {
		return true
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	return userOK && passOK
}

// Wrap protects a handler with basic auth when credentials are set.
func (a *Authenticator) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if !a.Enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !a.Authenticate(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Enclosure Controller"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
