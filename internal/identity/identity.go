// Package identity gives every browser an anonymous student identity, scopes
// sessions per tab and carries the run a tab believes it is playing.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/store"
)

const (
	AnonCookieName    = "rr_anon_id"
	SessionHeaderName = "X-RR-Session-ID"
	RunHeaderName     = "X-RR-Run-ID"
	DefaultTabID      = "default"
	anonCookieMaxAge  = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	studentKey
	tabIDKey
	runIDKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// StudentFromContext returns the stored student behind the request, or nil.
func StudentFromContext(ctx context.Context) *domain.Student {
	v, _ := ctx.Value(studentKey).(*domain.Student)
	return v
}

// UsernameFromContext returns the stored student's display name.
func UsernameFromContext(ctx context.Context) string {
	if st := StudentFromContext(ctx); st != nil {
		return st.Username
	}
	return ""
}

// TabIDFromContext extracts the tab session ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// RunIDFromContext returns the run the client addressed, or "" when the
// request is not scoped to a run.
func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "student-" + userID[len(userID)-8:]
	}
	return "student"
}

// lastSeenResolution limits last_seen writes to one per student per minute.
const lastSeenResolution = time.Minute

// ensureStudent loads or creates the student row for userID and refreshes
// its last-seen time.
func ensureStudent(ctx context.Context, repo store.Repository, userID string) (*domain.Student, error) {
	student, err := repo.GetStudent(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if student != nil {
		if student.IdleFor(now) < lastSeenResolution {
			return student, nil
		}
		if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
			return nil, err
		}
		student.LastSeenAt = now
		return student, nil
	}

	student = &domain.Student{
		UserID:     userID,
		Username:   deriveUsername(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertStudent(ctx, student); err != nil {
		return nil, err
	}
	return student, nil
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else if id, err = generateAnonID(); err != nil {
		return "", err
	}

	// Refresh the expiry on every request so active students keep their id.
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		// Browsers cannot set headers on websocket upgrades.
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeTabID(sid)
}

// runIDFromRequest reads the run a client is acting on. Malformed values are
// dropped, leaving the request unscoped.
func runIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RunHeaderName))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("run_id"))
	}
	if !tabIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// Middleware injects the anonymous student, the tab ID and the addressed run.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			student, err := ensureStudent(r.Context(), repo, userID)
			if err != nil {
				slog.Error("failed to initialize anonymous student", "error", err, "user_id", userID)
				http.Error(w, `{"error":"failed to initialize anonymous student"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, studentKey, student)
			ctx = context.WithValue(ctx, tabIDKey, tabIDFromRequest(r))
			ctx = context.WithValue(ctx, runIDKey, runIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
