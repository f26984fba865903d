package www

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"fleetwatch/store"
)

const (
	sessionName = "fleetwatch-session"
	tokenName   = "fleetwatch-token"
)

type ctxKey int

const operatorKey ctxKey = iota

func newSessionStore(secret string) *sessions.CookieStore {
	if secret == "" {
		secret = "fleetwatch-default-secret-change-me"
	}
	s := sessions.NewCookieStore([]byte(secret))
	s.Options.HttpOnly = true
	s.Options.Secure = false
	s.Options.SameSite = http.SameSiteLaxMode
	return s
}

// tokenCodec signs and verifies the bearer tokens handed out at login. The
// websocket gateway accepts the same tokens.
type tokenCodec struct {
	sc *securecookie.SecureCookie
}

type tokenClaims struct {
	OperatorID int64 `json:"uid"`
}

func newTokenCodec(secret string, ttl time.Duration) *tokenCodec {
	if secret == "" {
		secret = "fleetwatch-default-token-secret"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	sc := securecookie.New([]byte(secret), nil)
	sc.MaxAge(int(ttl.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &tokenCodec{sc: sc}
}

func (c *tokenCodec) Issue(operatorID int64) (string, error) {
	return c.sc.Encode(tokenName, tokenClaims{OperatorID: operatorID})
}

// Verify returns the operator id a valid, unexpired token was issued for.
func (c *tokenCodec) Verify(token string) (int64, error) {
	var claims tokenClaims
	if err := c.sc.Decode(tokenName, token, &claims); err != nil {
		return 0, err
	}
	if claims.OperatorID <= 0 {
		return 0, errors.New("token has no operator")
	}
	return claims.OperatorID, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// authenticate resolves the caller from a bearer token or, failing that, the
// session cookie.
func (h *Handlers) authenticate(r *http.Request) (*store.Operator, string) {
	var id int64
	if tok := bearerToken(r); tok != "" {
		var err error
		if id, err = h.tokens.Verify(tok); err != nil {
			return nil, "Invalid token"
		}
	} else {
		session, err := h.sessions.Get(r, sessionName)
		if err != nil {
			return nil, "No token provided"
		}
		sid, ok := session.Values["operator_id"].(int64)
		if !ok || sid <= 0 {
			return nil, "No token provided"
		}
		id = sid
	}
	op, err := h.engine.DB().GetOperator(id)
	if err != nil {
		return nil, "User not found"
	}
	return op, ""
}

func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, msg := h.authenticate(r)
		if op == nil {
			h.jsonError(w, msg, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey, op)))
	})
}

func operatorFrom(r *http.Request) *store.Operator {
	op, _ := r.Context().Value(operatorKey).(*store.Operator)
	return op
}

// actor names the caller in the audit log.
func actor(r *http.Request) string {
	if op := operatorFrom(r); op != nil {
		return fmt.Sprintf("operator:%d", op.ID)
	}
	return "system"
}

func (h *Handlers) ensureDemoUser(db *store.DB) {
	auth := h.engine.AppConfig().Auth
	if auth.DemoEmail == "" || auth.DemoPassword == "" {
		return
	}
	if _, err := db.GetOperatorByEmail(auth.DemoEmail); err == nil || !errors.Is(err, store.ErrNotFound) {
		return
	}
	hash, err := hashPassword(auth.DemoPassword)
	if err != nil {
		return
	}
	if _, err := db.CreateOperator(auth.DemoEmail, "Demo Operator", hash); err != nil {
		log.Printf("auth: create demo user: %v", err)
		return
	}
	log.Printf("auth: demo user %s created", auth.DemoEmail)
}

type userView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func viewOf(op *store.Operator) userView {
	return userView{ID: op.ID, Email: op.Email, Name: op.Name}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handlers) apiRegister(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !h.decode(w, r, &c) {
		return
	}
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" || c.Password == "" {
		h.jsonError(w, "Email and password required", http.StatusBadRequest)
		return
	}
	if _, err := h.engine.DB().GetOperatorByEmail(c.Email); err == nil {
		h.jsonError(w, "Email already registered", http.StatusConflict)
		return
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name, _, _ = strings.Cut(c.Email, "@")
	}
	hash, err := hashPassword(c.Password)
	if err != nil {
		h.jsonError(w, "Registration failed", http.StatusInternalServerError)
		return
	}
	op, err := h.engine.DB().CreateOperator(c.Email, name, hash)
	if err != nil {
		log.Printf("auth: register %s: %v", c.Email, err)
		h.jsonError(w, "Registration failed", http.StatusInternalServerError)
		return
	}
	h.issue(w, r, op, http.StatusCreated)
}

func (h *Handlers) apiLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !h.decode(w, r, &c) {
		return
	}
	if c.Email == "" || c.Password == "" {
		h.jsonError(w, "Email and password required", http.StatusBadRequest)
		return
	}
	op, err := h.engine.DB().GetOperatorByEmail(c.Email)
	if err != nil || !checkPassword(op.PasswordHash, c.Password) {
		h.jsonError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	h.issue(w, r, op, http.StatusOK)
}

// issue signs a token for op, records it in the session and writes both.
func (h *Handlers) issue(w http.ResponseWriter, r *http.Request, op *store.Operator, code int) {
	token, err := h.tokens.Issue(op.ID)
	if err != nil {
		log.Printf("auth: issue token: %v", err)
		h.jsonError(w, "Login failed", http.StatusInternalServerError)
		return
	}
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["operator_id"] = op.ID
	if err := session.Save(r, w); err != nil {
		log.Printf("auth: session save error: %v", err)
	}
	h.jsonStatus(w, code, map[string]any{"user": viewOf(op), "token": token})
}

func (h *Handlers) apiMe(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{"user": viewOf(operatorFrom(r))})
}

func (h *Handlers) apiLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	delete(session.Values, "operator_id")
	session.Options.MaxAge = -1
	session.Save(r, w)
	h.jsonOK(w, map[string]string{"message": "Logged out successfully"})
}
