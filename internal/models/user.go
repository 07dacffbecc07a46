package models

// User 是身份服务拥有的用户数据在本服务中的只读视图。
type User struct {
	BaseModel
	Username  string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Nickname  string `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
}

// UserBasicInfo holds minimal public information about a user.
type UserBasicInfo struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DisplayName prefers the nickname.
func (u UserBasicInfo) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// BasicInfo projects u to its public fields.
func (u *User) BasicInfo() UserBasicInfo {
	return UserBasicInfo{ID: u.ID, Username: u.Username, Nickname: u.Nickname, AvatarURL: u.AvatarURL}
}
