// internal/service/coupon/domain/code.go
package domain

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	codeRandomLength = 6
	base36Alphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var codePrefixPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,12}$`)

// NewCode 生成形如 {PREFIX}-{时间戳base36}-{随机base36} 的券码。
// 唯一性由存储层的唯一索引保证，碰撞时由调用方重新生成。
func NewCode(prefix string, now time.Time) (string, error) {
	random := make([]byte, codeRandomLength)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range random {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		random[i] = base36Alphabet[n.Int64()]
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return strings.ToUpper(prefix) + "-" + ts + "-" + string(random), nil
}

// NormalizeCode 统一大小写并去掉空白，顾客手输的券码也能匹配。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
