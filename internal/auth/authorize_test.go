package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"tradepost.app/internal/apperr"
)

func TestAuthorizeAdminOnlyForAdmins(t *testing.T) {
	for _, role := range Roles {
		err := Authorize(Principal{ID: "a-1", Role: role}, CapAdmin)
		if role == RoleAdmin {
			if err != nil {
				t.Fatalf("admin denied: %v", err)
			}
			continue
		}
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("role %s: expected forbidden, got %v", role, err)
		}
		if errors.Is(err, apperr.ErrUnauthenticated) {
			t.Fatalf("role %s: forbidden must not be reported as unauthenticated", role)
		}
	}
}

func TestCapabilityTable(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleBuyer, CapCreateProduct, false},
		{RoleBuyer, CapMatch, true},
		{RoleSeller, CapCreateProduct, true},
		{RoleSeller, CapCreateFilm, false},
		{RoleUser, CapCreateProduct, true},
		{RoleDirector, CapCreateFilm, true},
		{RoleDirector, CapCreateProduct, false},
		{RoleAdmin, CapCreateFilm, true},
		{Role("ghost"), CapMatch, false},
		{Role(""), CapCheckout, false},
	}
	for _, tc := range cases {
		if got := (Principal{ID: "x", Role: tc.role}).Can(tc.cap); got != tc.want {
			t.Fatalf("%s/%s: got %v want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestAuthorizeOwner(t *testing.T) {
	owner := Principal{ID: "owner", Role: RoleSeller}
	if err := AuthorizeOwner(owner, "owner"); err != nil {
		t.Fatalf("owner denied: %v", err)
	}
	if err := AuthorizeOwner(Principal{ID: "other", Role: RoleSeller}, "owner"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
	if err := AuthorizeOwner(Principal{ID: "owner", Role: Role("ghost")}, "owner"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for unknown role, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Director ")
	if err != nil || r != RoleDirector {
		t.Fatalf("unexpected parse result %q %v", r, err)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if RoleAdmin.SelfRegistrable() || !RoleBuyer.SelfRegistrable() {
		t.Fatal("unexpected self-registrable set")
	}
}

func TestContextPrincipal(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal")
	}
	ctx := ContextWithPrincipal(context.Background(), Principal{ID: "a", Role: RoleUser})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.ID != "a" || p.Role != RoleUser {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), Principal{})); ok {
		t.Fatal("expected anonymous principal to be ignored")
	}
}

func TestPasswordHashing(t *testing.T) {
	PasswordCost = bcrypt.MinCost
	t.Cleanup(func() { PasswordCost = bcrypt.DefaultCost })

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := VerifyPassword("", "correct horse"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch for empty hash, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("x", MaxPasswordBytes+1)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
