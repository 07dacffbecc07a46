package models

import "time"

// Community 是社区服务拥有的数据在本服务中的只读视图。
type Community struct {
	BaseModel
	Name      string `gorm:"type:varchar(100);not null" json:"name"`
	AvatarURL string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
}

// TableName 指定 Community 模型的表名。
func (Community) TableName() string {
	return "communities"
}

// CommunityRole 定义了用户在社区中的角色。
type CommunityRole string

const (
	AdminRole     CommunityRole = "admin"
	ModeratorRole CommunityRole = "moderator"
	MemberRole    CommunityRole = "member"
)

// Elevated reports whether the role may moderate the community's conversation.
func (r CommunityRole) Elevated() bool {
	return r == AdminRole || r == ModeratorRole
}

// CommunityMember 将用户链接到社区并定义其角色。
type CommunityMember struct {
	CommunityID uint          `gorm:"primaryKey;autoIncrement:false" json:"communityId"`
	UserID      uint          `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	Role        CommunityRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt    time.Time     `json:"joinedAt"`
}

// TableName 指定 CommunityMember 模型的表名。
func (CommunityMember) TableName() string {
	return "community_members"
}
