package auth

import (
	"testing"
	"time"
)

func TestAgentTokenRoundTrip(t *testing.T) {
	iss := NewJWTIssuer("test-secret")
	tok, err := iss.IssueAgentToken("host-a", time.Minute)
	if err != nil {
		t.Fatalf("IssueAgentToken: %v", err)
	}
	claims, err := iss.ValidateAgentToken(tok)
	if err != nil {
		t.Fatalf("ValidateAgentToken: %v", err)
	}
	if claims.HostID != "host-a" {
		t.Fatalf("expected host-a, got %s", claims.HostID)
	}
}

func TestAgentTokenRejectsWrongSecret(t *testing.T) {
	tok, err := NewJWTIssuer("secret-1").IssueAgentToken("host-a", time.Minute)
	if err != nil {
		t.Fatalf("IssueAgentToken: %v", err)
	}
	if _, err := NewJWTIssuer("secret-2").ValidateAgentToken(tok); err == nil {
		t.Fatal("expected validation with a different secret to fail")
	}
}

func TestAgentTokenRejectsExpired(t *testing.T) {
	iss := NewJWTIssuer("test-secret")
	tok, err := iss.IssueAgentToken("host-a", -time.Minute)
	if err != nil {
		t.Fatalf("IssueAgentToken: %v", err)
	}
	if _, err := iss.ValidateAgentToken(tok); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestShellTokenRoundTrip(t *testing.T) {
	iss := NewJWTIssuer("test-secret")
	tok, err := iss.IssueShellToken("vm-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueShellToken: %v", err)
	}
	claims, err := iss.ValidateShellToken(tok)
	if err != nil {
		t.Fatalf("ValidateShellToken: %v", err)
	}
	if claims.VMID != "vm-1" {
		t.Fatalf("expected vm-1, got %s", claims.VMID)
	}
}
