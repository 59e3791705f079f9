package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AgentClaims authorizes the Manager to call one Agent's privileged HTTP
// API. Short-lived and reissued per call rather than cached, since Agent
// calls themselves already go through agentclient's retry-with-backoff.
type AgentClaims struct {
	jwt.RegisteredClaims
	HostID string `json:"host_id"`
}

// ShellClaims scopes a `/vms/{id}/shell/ws` connection to one VM, so a
// leaked shell URL can't be replayed against a different VM.
type ShellClaims struct {
	jwt.RegisteredClaims
	VMID string `json:"vm_id"`
}

// JWTIssuer issues and validates the short-lived tokens above with a
// single shared HMAC secret.
type JWTIssuer struct {
	secret []byte
}

// NewJWTIssuer creates a new JWT issuer with the given shared secret.
func NewJWTIssuer(secret string) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret)}
}

// IssueAgentToken creates a bearer token the Manager attaches to its
// requests against hostID's Agent.
func (j *JWTIssuer) IssueAgentToken(hostID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AgentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "fleetforge-manager",
		},
		HostID: hostID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateAgentToken parses and validates a Manager->Agent bearer token.
func (j *JWTIssuer) ValidateAgentToken(tokenStr string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AgentClaims{}, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("invalid agent token: %w", err)
	}
	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid agent token claims")
	}
	return claims, nil
}

// IssueShellToken creates a short-lived token scoping a shell session to vmID.
func (j *JWTIssuer) IssueShellToken(vmID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ShellClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "fleetforge-manager",
		},
		VMID: vmID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateShellToken parses and validates a shell-session token.
func (j *JWTIssuer) ValidateShellToken(tokenStr string) (*ShellClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ShellClaims{}, j.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("invalid shell token: %w", err)
	}
	claims, ok := token.Claims.(*ShellClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid shell token claims")
	}
	return claims, nil
}

func (j *JWTIssuer) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return j.secret, nil
}
