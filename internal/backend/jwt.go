package backend

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

func (s *Server) JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		var tok string
		if auth != "" && strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			tok = strings.TrimSpace(auth[len("Bearer "):])
		} else {
			// Fallback to cookie for browsers
			if c, err := r.Cookie("access_token"); err == nil {
				val, _ := url.QueryUnescape(c.Value)
				tok = strings.TrimSpace(val)
			}
		}

		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims := &jwtClaims{}
		_, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})

		if err != nil {
			// Token invalid or expired
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth middleware ensures user is authenticated.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := UserIDFromCtx(r.Context())
		if uid == "" {
			w.Header().Add("WWW-Authenticate", `Bearer realm="Gatehouse"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, userID string) error {
	accessTTL := s.cfg.AccessTTL
	if accessTTL == 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := s.cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	accessToken, err := s.generateAccessToken(userID, accessTTL)
	if err != nil {
		return err
	}

	refreshToken := s.generateOpaqueToken()

	// Opaque refresh tokens live server-side. Key: sess:<opaque>
	sessData := map[string]any{
		"uid": userID,
		"iat": time.Now().Unix(),
	}
	sessBytes, _ := json.Marshal(sessData)
	if err := s.sessions.Set("sess:"+refreshToken, sessBytes, refreshTTL); err != nil {
		return err
	}

	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    url.QueryEscape(accessToken),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(accessTTL.Seconds()),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    url.QueryEscape(refreshToken),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(refreshTTL.Seconds()),
	})

	return nil
}

func (s *Server) generateAccessToken(userID string, ttl time.Duration) (string, error) {
	claims := jwtClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Server) generateOpaqueToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if c, err := r.Cookie("refresh_token"); err == nil {
		refreshToken, _ = url.QueryUnescape(c.Value)
	}
	if refreshToken == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing refresh token"})
		return
	}

	val, err := s.sessions.Get("sess:" + refreshToken)
	if err != nil || val == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	var sessData map[string]any
	_ = json.Unmarshal(val, &sessData)
	uid, _ := sessData["uid"].(string)

	// Rotate tokens
	_ = s.sessions.Del("sess:" + refreshToken)
	if err := s.issueTokens(w, r, uid); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie("refresh_token"); err == nil {
		refreshToken, _ := url.QueryUnescape(c.Value)
		_ = s.sessions.Del("sess:" + refreshToken)
	}

	// Invalidate the cached org membership check for this browser, then drop
	// the browser session itself.
	if cacheKey, _ := s.web.TakeAttr(r, "org_check_cache"); cacheKey != "" {
		_ = s.sessions.Del(cacheKey)
	}
	s.web.Destroy(w, r)

	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	clearCookie := func(name string) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
	clearCookie("access_token")
	clearCookie("refresh_token")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	u, err := s.store.GetUser(uid)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleGetUserAudit(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	logs, err := s.store.GetUserAuditLogs(uid, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
