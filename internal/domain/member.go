package domain

import "time"

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User     *User
	JoinedAt time.Time
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user, JoinedAt: time.Now().UTC()}
}

func (m *Member) DisplayName() string {
	if m == nil || m.User == nil {
		return ""
	}
	return m.User.Username
}
