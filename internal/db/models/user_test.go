package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUser_IsAdmin(t *testing.T) {
	tests := []struct {
		name string
		role string
		want bool
	}{
		{"admin role", RoleAdmin, true},
		{"member role", RoleMember, false},
		{"empty role", "", false},
		{"unknown role", "superuser", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := &User{Role: tc.role}
			if got := u.IsAdmin(); got != tc.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUser_JSONHidesCredentials(t *testing.T) {
	sub := "oidc-subject-123"
	u := &User{
		ID:           uuid.New(),
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "$2a$10$notarealhashbutsecret",
		Role:         RoleAdmin,
		OIDCSub:      &sub,
	}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(b)

	if strings.Contains(body, "password_hash") || strings.Contains(body, u.PasswordHash) {
		t.Errorf("serialized user leaks the password hash: %s", body)
	}
	if strings.Contains(body, sub) {
		t.Errorf("serialized user leaks the OIDC subject: %s", body)
	}
	if !strings.Contains(body, "alice@example.com") {
		t.Errorf("serialized user missing public fields: %s", body)
	}
}
