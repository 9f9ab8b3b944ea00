package account

// Channel 是验证码的投递渠道。
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// 键名格式与既有持久化数据保持逐字节兼容，不要改动。

func userKey(email string) string {
	return "user:" + email
}

func registerCodeKey(channel Channel, identifier string) string {
	return "register:code:" + string(channel) + ":" + identifier
}

func invitationKey(code string) string {
	return "invitationCode:" + code
}
