package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleAuthor   Role = "author"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionFeedback Action = "feedback"
	ActionExport   Action = "export"
	ActionEdit     Action = "edit"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAuthor:
		return action == ActionRead || action == ActionFeedback || action == ActionExport || action == ActionEdit
	case RoleReviewer:
		return action == ActionRead || action == ActionFeedback || action == ActionExport
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReviewer, RoleAuthor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
