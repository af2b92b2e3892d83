package payment

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MerchantIDLength 商户订单号长度（十六进制字符）。
const MerchantIDLength = 10

// IDGenerator 生成商户订单号：
// sha1( sha1(随机值)[:2] + sha1(unix秒)[后3位] + 邮箱@前缀 )[:10]
// 只保证概率上唯一，冲突由 Factory 重试处理。
type IDGenerator struct {
	Now    func() time.Time
	Random func() string
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		Now:    time.Now,
		Random: uuid.NewString,
	}
}

func (g *IDGenerator) Generate(email string) string {
	shortHash := sha1Hex(g.Random())[:2]
	timeHash := sha1Hex(strconv.FormatInt(g.Now().Unix(), 10))
	timeHash = timeHash[len(timeHash)-3:]
	return sha1Hex(shortHash + timeHash + emailLocalPart(email))[:MerchantIDLength]
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
