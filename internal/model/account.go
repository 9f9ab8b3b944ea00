package model

// Account 表示一个用户账户文档。
//
// 以规范化邮箱为唯一标识，整个文档存储在 `user:<email>` 键下。
// 字段名与持久化的 JSON 字段一一对应，修改 tag 会破坏已有数据的兼容性。
type Account struct {
	Name         string `json:"name"`         // 显示名称，默认 "Anonymous"
	PasswordHash string `json:"passwordHash"` // 单向哈希后的密码，仅做等值比较
	CreatedAt    int64  `json:"createdAt"`    // 创建时间（毫秒时间戳）
	LastLoginAt  int64  `json:"lastLoginAt"`  // 最近一次成功登录时间（毫秒时间戳）
	IsBlocked    bool   `json:"isBlocked"`    // 是否被封禁（此核心只读不写）
	ResetChances int    `json:"resetChances"` // 重置次数计数器，可增减，无下限

	InvitationCodes []string       `json:"invitationCodes"` // 本账户签发过的邀请码，只追加
	Subscriptions   []Subscription `json:"subscriptions"`   // 订阅历史，只追加

	PlanNow     string `json:"planNow,omitempty"`     // 兜底套餐标签，仅在 role 缺失时生效
	Role        string `json:"role,omitempty"`        // 特权角色，优先级高于 planNow 和订阅推导
	Phone       string `json:"phone,omitempty"`       // 手机号，经短信验证码激活后写入一次
	InviterCode string `json:"inviterCode,omitempty"` // 本账户兑换过的邀请码，后写覆盖
}

// Subscription 表示一条订阅记录，内嵌在账户文档中，不单独建键。
//
// 记录只追加，永不原地修改或删除；多条记录的时间窗口可以重叠。
type Subscription struct {
	Level    int   `json:"level"`    // 套餐级别，数值越大级别越高
	StartsAt int64 `json:"startsAt"` // 生效时间（毫秒时间戳，含）
	EndsAt   int64 `json:"endsAt"`   // 失效时间（毫秒时间戳，含）
}

// InvitationCode 表示一个邀请码文档，存储在 `invitationCode:<code>` 键下。
//
// 创建后永不删除；InviteeEmails 只追加。
type InvitationCode struct {
	InviterEmail  string   `json:"inviterEmail"`  // 签发者邮箱，不可变
	InviteeEmails []string `json:"inviteeEmails"` // 兑换过该码的邮箱列表，只追加
	Type          string   `json:"type"`          // 调用方提供的类别标签，不可变
}
