package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/store"
)

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session issuance is owned by the marketplace's auth service in production;
// this endpoint mirrors it so the process runs standalone.
func HandleLogin(st *store.Store, jwt *JWT, w http.ResponseWriter, r *http.Request) error {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return err
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	user, err := st.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return nil
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return nil
	}

	tok, err := jwt.Sign(user, 24*time.Hour)
	if err != nil {
		return err
	}
	resp := map[string]any{"token": tok, "user": user}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(resp)
}

func HandleMe(st *store.Store, w http.ResponseWriter, r *http.Request) error {
	u := r.Context().Value(UserContextKey).(*Claims)
	user, err := st.GetUser(r.Context(), u.UserID)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(user)
}

type contextKey string

// UserContextKey carries the authenticated claims through request contexts.
const UserContextKey contextKey = "user"
