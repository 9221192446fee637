package domain

// RoleAdmin is the role id granted access to admin routes.
const RoleAdmin = 1

type User struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	RoleID int    `json:"roleId"`
}

// Session is the persisted authentication state of the storefront.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.User.RoleID == RoleAdmin
}
