// Package authtest provides an in-process fake of the portfolio
// backend for tests: cookie-based credentials with rotation, an
// anti-forgery cookie/header pair, and the projects/contact surface.
// It reproduces the real backend's observable contract (cookie names,
// status codes, error bodies) without any of its persistence.
package authtest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/duynhne/portfolio-client/internal/core/domain"
)

// Cookie names issued by the backend. Only the XSRF cookie is
// client-readable; the other two are HttpOnly.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	XSRFTokenCookie    = "XSRF-TOKEN"
)

const maxLoginAttempts = 5

type user struct {
	passwordHash []byte
	info         domain.UserInfo
}

// Server is the fake backend. Counters and toggles let tests steer and
// observe the credential lifecycle.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	users          map[string]*user
	accessTokens   map[string]string // token -> username
	refreshTokens  map[string]string // token -> username, deleted when used
	xsrfTokens     map[string]bool
	failedLogins   map[string]int
	projects       map[int]domain.Project
	nextProjectID  int
	failRefresh    bool
	requireXSRF    bool
	fixedXSRFToken string

	refreshCalls int32
	loginCalls   int32
}

// New starts the fake backend. Callers own shutdown via Close.
func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		users:         make(map[string]*user),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		xsrfTokens:    make(map[string]bool),
		failedLogins:  make(map[string]int),
		projects:      make(map[int]domain.Project),
		nextProjectID: 1,
	}

	r := gin.New()
	r.POST("/api/auth/login", s.login)
	r.POST("/api/auth/register", s.register)
	r.POST("/api/auth/refresh", s.refresh)
	r.POST("/api/auth/logout", s.logout)
	r.POST("/api/auth/logout-all", s.logoutAll)
	r.GET("/api/auth/me", s.me)

	r.GET("/api/projects", s.listProjects)
	r.GET("/api/projects/featured", s.featuredProjects)
	r.GET("/api/projects/:id", s.getProject)
	r.POST("/api/projects", s.createProject)
	r.PUT("/api/projects/:id", s.updateProject)
	r.DELETE("/api/projects/:id", s.deleteProject)

	r.POST("/api/contact", s.contact)

	s.Server = httptest.NewServer(r)
	return s
}

// SeedUser registers a user directly, bypassing the HTTP surface.
func (s *Server) SeedUser(username, password, email, fullName string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{
		passwordHash: hash,
		info:         domain.UserInfo{Username: username, Email: email, FullName: fullName},
	}
}

// SeedProject inserts a project and returns its assigned ID.
func (s *Server) SeedProject(p domain.Project) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextProjectID
	s.nextProjectID++
	s.projects[p.ID] = p
	return p.ID
}

// ExpireAccessTokens invalidates every outstanding access token, as if
// their lifetime elapsed. Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = make(map[string]string)
}

// SetFailRefresh makes every subsequent refresh attempt fail, as if
// the rotation credential had been revoked.
func (s *Server) SetFailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRequireXSRF enforces the anti-forgery header on mutating content
// calls.
func (s *Server) SetRequireXSRF(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireXSRF = require
}

// SetFixedXSRFToken pins the value of the next issued XSRF cookies so
// tests can assert the exact header value.
func (s *Server) SetFixedXSRFToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixedXSRFToken = token
	s.xsrfTokens[token] = true
}

// RefreshCalls reports how many refresh requests the server received.
func (s *Server) RefreshCalls() int {
	return int(atomic.LoadInt32(&s.refreshCalls))
}

// LoginCalls reports how many login requests the server received.
func (s *Server) LoginCalls() int {
	return int(atomic.LoadInt32(&s.loginCalls))
}

// ---- auth handlers ----

func (s *Server) login(c *gin.Context) {
	atomic.AddInt32(&s.loginCalls, 1)

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if s.failedLogins[req.Username] >= maxLoginAttempts {
		s.mu.Unlock()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             "Too many failed login attempts",
			"retryAfterSeconds": 900,
		})
		return
	}

	u, ok := s.users[req.Username]
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		s.failedLogins[req.Username]++
		remaining := maxLoginAttempts - s.failedLogins[req.Username]
		s.mu.Unlock()
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "Invalid credentials",
			"remainingAttempts": remaining,
		})
		return
	}

	delete(s.failedLogins, req.Username)
	info := u.info
	s.issueCookiesLocked(c, req.Username)
	s.mu.Unlock()

	c.JSON(http.StatusOK, info)
}

func (s *Server) register(c *gin.Context) {
	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[req.Username]; exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already taken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	info := domain.UserInfo{Username: req.Username, Email: req.Email, FullName: req.FullName}
	s.users[req.Username] = &user{passwordHash: hash, info: info}

	c.JSON(http.StatusOK, info)
}

func (s *Server) refresh(c *gin.Context) {
	atomic.AddInt32(&s.refreshCalls, 1)

	token, err := c.Cookie(RefreshTokenCookie)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil || s.failRefresh {
		s.clearCookiesLocked(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token"})
		return
	}

	username, ok := s.refreshTokens[token]
	if !ok {
		// Rotation tokens are single-use: a second presentation of the
		// same token is a replay and must fail.
		s.clearCookiesLocked(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token"})
		return
	}
	delete(s.refreshTokens, token)

	s.issueCookiesLocked(c, username)
	c.JSON(http.StatusOK, gin.H{"message": "Token refreshed successfully"})
}

func (s *Server) logout(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, err := c.Cookie(RefreshTokenCookie); err == nil {
		delete(s.refreshTokens, token)
	}
	s.clearCookiesLocked(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (s *Server) logoutAll(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.authedUserLocked(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	for token, owner := range s.refreshTokens {
		if owner == username {
			delete(s.refreshTokens, token)
		}
	}
	s.clearCookiesLocked(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out from all devices"})
}

func (s *Server) me(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.authedUserLocked(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, s.users[username].info)
}

// ---- content handlers ----

func (s *Server) listProjects(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.projectsLocked(false))
}

func (s *Server) featuredProjects(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.projectsLocked(true))
}

func (s *Server) getProject(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		if idParam(c) == p.ID {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
}

func (s *Server) createProject(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorizeMutationLocked(c) {
		return
	}

	var p domain.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.ID = s.nextProjectID
	s.nextProjectID++
	s.projects[p.ID] = p
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateProject(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorizeMutationLocked(c) {
		return
	}

	id := idParam(c)
	if _, ok := s.projects[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}

	var p domain.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.ID = id
	s.projects[id] = p
	c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProject(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorizeMutationLocked(c) {
		return
	}

	id := idParam(c)
	if _, ok := s.projects[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	delete(s.projects, id)
	c.Status(http.StatusOK)
}

func (s *Server) contact(c *gin.Context) {
	var req domain.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, domain.ContactResponse{Success: true, Message: "Message sent"})
}

// ---- internals ----

// issueCookiesLocked mints a fresh access/refresh/XSRF cookie triple.
func (s *Server) issueCookiesLocked(c *gin.Context, username string) {
	access := randomToken()
	refresh := randomToken()
	xsrf := s.fixedXSRFToken
	if xsrf == "" {
		xsrf = randomToken()
	}

	s.accessTokens[access] = username
	s.refreshTokens[refresh] = username
	s.xsrfTokens[xsrf] = true

	c.SetCookie(AccessTokenCookie, access, 900, "/", "", false, true)
	c.SetCookie(RefreshTokenCookie, refresh, 604800, "/", "", false, true)
	c.SetCookie(XSRFTokenCookie, xsrf, 900, "/", "", false, false)
}

func (s *Server) clearCookiesLocked(c *gin.Context) {
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", false, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", "", false, true)
}

func (s *Server) authedUserLocked(c *gin.Context) (string, bool) {
	token, err := c.Cookie(AccessTokenCookie)
	if err != nil {
		return "", false
	}
	username, ok := s.accessTokens[token]
	return username, ok
}

// authorizeMutationLocked enforces the access cookie and, when
// enabled, the anti-forgery header. Writes the error response itself.
func (s *Server) authorizeMutationLocked(c *gin.Context) bool {
	if _, ok := s.authedUserLocked(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return false
	}
	if s.requireXSRF {
		header := c.GetHeader("X-XSRF-TOKEN")
		if header == "" || !s.xsrfTokens[header] {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token"})
			return false
		}
	}
	return true
}

func (s *Server) projectsLocked(featuredOnly bool) []domain.Project {
	out := make([]domain.Project, 0, len(s.projects))
	for id := 1; id < s.nextProjectID; id++ {
		p, ok := s.projects[id]
		if !ok {
			continue
		}
		if featuredOnly && !p.Featured {
			continue
		}
		out = append(out, p)
	}
	return out
}

func idParam(c *gin.Context) int {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return -1
	}
	return id
}

func randomToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
