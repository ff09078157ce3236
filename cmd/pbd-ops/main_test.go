package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/poweredbydonation/pbd_backend/utils"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("API_SECRET", "cli-secret")

	out, err := runCmd(t, "token", "--user", "ops-1", "--role", utils.RoleAdmin)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := utils.JwtValidate([]byte("cli-secret"), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserId != "ops-1" || claims.Role != utils.RoleAdmin {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenCommandRejectsBadInput(t *testing.T) {
	t.Setenv("API_SECRET", "cli-secret")
	if _, err := runCmd(t, "token", "--user", "u-1", "--role", "root"); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if _, err := runCmd(t, "token", "--role", utils.RoleDonor); err == nil {
		t.Fatalf("expected missing --user error")
	}

	t.Setenv("API_SECRET", "")
	if _, err := runCmd(t, "token", "--user", "u-1"); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
