package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zenazn/goji/web"

	"github.com/pathviewer/wsiview/wsi"
)

// global authorization list of user to "read", "write", or "readwrite".
var (
	authorizedUsers map[string]string
	authMu          sync.RWMutex
)

// authConfig holds the JWT signing key and the optional user authorization file.
type authConfig struct {
	AuthFile  string `toml:"auth_file"`
	SecretKey string `toml:"secret_key"`
}

// AuthRequired returns true if requests must carry a JWT.
func AuthRequired() bool {
	return tc.Auth.SecretKey != ""
}

// GenerateJWT returns a JWT given a user using the configured secret key.
func GenerateJWT(user string) (string, error) {
	if tc.Auth.SecretKey == "" {
		return "", fmt.Errorf("no [auth] secret_key configured")
	}
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["user"] = user

	tokenString, err := token.SignedString([]byte(tc.Auth.SecretKey))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// isAuthorized is middleware that validates a JWT and sets the c.Env["user"] field
// to the authenticated user.  It passes all requests if no secret key is configured.
func isAuthorized(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		if !AuthRequired() || r.URL.Path == "/metrics" {
			h.ServeHTTP(w, r)
			return
		}
		reqToken := r.Header.Get("Authorization")
		if len(reqToken) == 0 {
			Unauthorized(w, r, "JWT required via Authorization in request header")
			return
		}
		splitToken := strings.Split(reqToken, "Bearer")
		if len(splitToken) != 2 {
			Unauthorized(w, r, "bearer not in proper format")
			return
		}
		reqToken = strings.TrimSpace(splitToken[1])
		if len(reqToken) == 0 {
			Unauthorized(w, r, "requests require JWT authentication")
			return
		}
		token, err := jwt.Parse(reqToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
			}
			return []byte(tc.Auth.SecretKey), nil
		})
		if err != nil {
			Unauthorized(w, r, "error parsing JWT: %v", err)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			Unauthorized(w, r, "failed authorization")
			return
		}
		user, ok := claims["user"].(string)
		if !ok {
			Unauthorized(w, r, "user %v is not a simple string", claims["user"])
			return
		}
		if !globalIsAuthorized(user, requestAccess(r)) {
			Forbidden(w, r, "user %q is not authorized", user)
			return
		}
		if c.Env == nil {
			c.Env = make(map[interface{}]interface{})
		}
		c.Env["user"] = user
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func loadAuthFile() error {
	authMu.Lock()
	defer authMu.Unlock()
	authorizedUsers = nil
	if len(tc.Auth.AuthFile) == 0 {
		if AuthRequired() {
			wsi.Infof("No authorization file found.  Any user with a valid JWT is authorized.\n")
		}
		return nil
	}
	data, err := os.ReadFile(tc.Auth.AuthFile)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &authorizedUsers); err != nil {
		return fmt.Errorf("bad authorization file %s: %v", tc.Auth.AuthFile, err)
	}
	return nil
}

// access is the privilege a request needs.
type access int

const (
	readAccess  access = iota // "read" or "readwrite"
	writeAccess               // "write" or "readwrite"
	anyAccess                 // any privilege
)

// requestAccess returns the privilege needed for a request.  GET and HEAD requests
// read.  Viewing sessions are per-client state, so creating, opening, and closing
// them is allowed for any privilege.  Everything else writes.
func requestAccess(r *http.Request) access {
	if strings.HasPrefix(r.URL.Path, WebAPIPath+"session") {
		return anyAccess
	}
	method := strings.ToLower(r.Method)
	if method == "get" || method == "head" {
		return readAccess
	}
	return writeAccess
}

// globalIsAuthorized returns true if the user is in our authorization file with the
// needed privilege or there is no authorization file.
func globalIsAuthorized(user string, needed access) bool {
	authMu.RLock()
	defer authMu.RUnlock()
	if authorizedUsers == nil {
		return true
	}
	priv, found := authorizedUsers[user]
	if !found {
		priv, found = authorizedUsers["*"]
		if !found {
			return false
		}
	}
	switch priv {
	case "readwrite":
		return true
	case "read":
		return needed != writeAccess
	case "write":
		return needed != readAccess
	default:
		wsi.Errorf("Authorized user %q has unparsable privilege %q\n", user, priv)
		return false
	}
}
