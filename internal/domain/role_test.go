package domain

import (
	"encoding/json"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"user":      RoleUser,
		"moderator": RoleModerator,
		"admin":     RoleAdmin,
		"headAdmin": RoleHeadAdmin,
	}
	for name, want := range cases {
		got, err := ParseRole(name)
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseRole(%q) = %v, want %v", name, got, want)
		}
		if got.String() != name {
			t.Errorf("String() = %q, want %q", got.String(), name)
		}
	}

	for _, bad := range []string{"", "Admin", "headadmin", "root"} {
		if _, err := ParseRole(bad); err == nil {
			t.Errorf("ParseRole(%q) should fail", bad)
		}
	}
}

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role  Role
		staff bool
	}{
		{RoleUser, false},
		{RoleModerator, true},
		{RoleAdmin, true},
		{RoleHeadAdmin, true},
		{Role(0), false},
	}
	for _, tc := range cases {
		if tc.role.IsStaff() != tc.staff {
			t.Errorf("%v.IsStaff() = %v", tc.role, tc.role.IsStaff())
		}
		if tc.role.CanManageTickets() != tc.staff {
			t.Errorf("%v.CanManageTickets() = %v", tc.role, tc.role.CanManageTickets())
		}
		if tc.role.SeesInternalMessages() != tc.staff {
			t.Errorf("%v.SeesInternalMessages() = %v", tc.role, tc.role.SeesInternalMessages())
		}
	}
}

func TestRoleJSON(t *testing.T) {
	msg := Message{ID: "m1", SenderRole: RoleHeadAdmin}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SenderRole != RoleHeadAdmin {
		t.Errorf("sender role = %v, want headAdmin", decoded.SenderRole)
	}

	if err := json.Unmarshal([]byte(`{"sender_role":"superuser"}`), &decoded); err == nil {
		t.Error("unknown role should fail to decode")
	}
	if _, err := json.Marshal(Message{}); err == nil {
		t.Error("zero role should fail to encode")
	}
}
