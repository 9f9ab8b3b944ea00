package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// hashPassword 对去除首尾空白的密码做确定性单向哈希。
// 存储的哈希只做等值比较，因此必须是确定性的（不能用带盐的 bcrypt）。
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(password)))
	return hex.EncodeToString(sum[:])
}

// invitationCodeFor 由邮箱与毫秒时间戳派生邀请码。
// 实际中不可猜测且基本不会碰撞，但没有形式化的唯一性保证。
func invitationCodeFor(email string, at time.Time) string {
	sum := sha256.Sum256([]byte(email + strconv.FormatInt(at.UnixMilli(), 10)))
	return hex.EncodeToString(sum[:])
}

// generateNumericCode 生成 n 位十进制随机验证码。
func generateNumericCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid code length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = '0' + (buf[i] % 10)
	}
	return string(buf), nil
}
