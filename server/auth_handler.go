package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ReleaseKit/model"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
)

// bearerToken returns the session token from the Authorization header, or from the
// access_token query parameter (browsers cannot set headers on websocket upgrades).
func bearerToken(r *http.Request) (string, bool, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true, nil
		}
		return "", false, nil
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", true, fmt.Errorf("invalid authorization header format")
	}
	return parts[1], true, nil
}

// authenticate 解析令牌并把用户信息放进 context；present=false 表示请求未携带令牌
func (h *APIHandler) authenticate(r *http.Request) (ctx context.Context, present bool, err error) {
	token, present, err := bearerToken(r)
	if err != nil || !present {
		return r.Context(), present, err
	}
	claims, err := h.signer.ParseToken(token)
	if err != nil {
		return r.Context(), true, err
	}
	ctx = context.WithValue(r.Context(), userIDKey, claims.UserID)
	ctx = context.WithValue(ctx, usernameKey, claims.Username)
	return ctx, true, nil
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, present, err := h.authenticate(r)
		if !present {
			writeErrorMessage(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OptionalAuthMiddleware lets anonymous requests through but still rejects a
// malformed or invalid token.
func (h *APIHandler) OptionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, present, err := h.authenticate(r)
		if present && err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameKey).(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// currentUser loads the authenticated user. Returns nil, nil for anonymous requests
// and for tokens whose user no longer exists.
func (h *APIHandler) currentUser(r *http.Request) (*model.User, error) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, nil
	}
	return h.userRepo.GetByID(r.Context(), userID)
}
