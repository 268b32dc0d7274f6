package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keshon/soundboard/internal/policy"
)

// CookieName carries the signed session token.
const CookieName = "soundboard_session"

const tokenLifetime = 30 * 24 * time.Hour

var ErrInvalidSession = errors.New("invalid or expired session")

// Session is one logged-in identity. Sessions live in memory only; a restart
// logs everyone out.
type Session struct {
	ID       string
	Username string
	Role     policy.Role
	IP       string // recorded for guest sessions
	Created  time.Time
}

// Actor returns the policy identity for this session.
func (s *Session) Actor() policy.Actor {
	return policy.Actor{Username: s.Username, Role: s.Role}
}

// Manager issues and resolves session tokens. The cookie value is a JWT
// wrapping the session id, so a stolen datastore file can't mint sessions,
// while the server-side table lets sessions be force-destroyed.
type Manager struct {
	mu     sync.Mutex
	secret []byte
	byID   map[string]*Session
}

func NewManager(secret []byte) *Manager {
	return &Manager{
		secret: secret,
		byID:   make(map[string]*Session),
	}
}

// Create registers a new session and returns it with its signed token.
func (m *Manager) Create(username string, role policy.Role, ip string) (*Session, string, error) {
	s := &Session{
		ID:       uuid.NewString(),
		Username: username,
		Role:     role,
		IP:       ip,
		Created:  time.Now(),
	}

	claims := jwt.RegisteredClaims{
		Subject:   s.ID,
		IssuedAt:  jwt.NewNumericDate(s.Created),
		ExpiresAt: jwt.NewNumericDate(s.Created.Add(tokenLifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign session token: %w", err)
	}

	m.mu.Lock()
	m.byID[s.ID] = s
	m.mu.Unlock()
	return s, token, nil
}

// Resolve validates a token and returns the live session behind it.
func (m *Manager) Resolve(token string) (*Session, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[claims.Subject]
	if !ok {
		return nil, ErrInvalidSession
	}
	return s, nil
}

// Destroy removes one session.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
}

// DestroyGuests tears down every guest session, used when guest access is
// switched off while guests are logged in.
func (m *Manager) DestroyGuests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.Role == policy.RoleGuest {
			delete(m.byID, id)
		}
	}
}

// DestroyIP tears down every guest session bound to ip, used when an IP is
// blocked mid-session.
func (m *Manager) DestroyIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.Role == policy.RoleGuest && s.IP == ip {
			delete(m.byID, id)
		}
	}
}
