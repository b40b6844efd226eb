package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer edit", role: RoleViewer, action: ActionEdit, allow: false},
		{name: "viewer export", role: RoleViewer, action: ActionExport, allow: false},
		{name: "reviewer feedback", role: RoleReviewer, action: ActionFeedback, allow: true},
		{name: "reviewer export", role: RoleReviewer, action: ActionExport, allow: true},
		{name: "reviewer edit", role: RoleReviewer, action: ActionEdit, allow: false},
		{name: "author edit", role: RoleAuthor, action: ActionEdit, allow: true},
		{name: "author admin", role: RoleAuthor, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("author"); got != RoleAuthor {
		t.Fatalf("Normalize(author) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("expected unknown roles to fall back to viewer, got %q", got)
	}
}
