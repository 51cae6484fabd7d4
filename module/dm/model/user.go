package model

// User 外部身份系统维护的引用数据；DM 核心只读，按 ID 缓存。
type User struct {
	ID          int64  `bson:"_id" json:"id"`
	DisplayName string `bson:"display_name" json:"display_name"`
	AvatarURL   string `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
}
