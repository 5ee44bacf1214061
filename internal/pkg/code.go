package pkg

import (
	cryptoRand "crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"
)

const inviteCodeBytes = 8

func RandDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		x, err := cryptoRand.Int(cryptoRand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + x.Int64()))
	}
	return b.String(), nil
}

// NewInviteCode 8 字节随机数 base64 后去掉 + / =，再转大写，方便人工输入
func NewInviteCode() (string, error) {
	b := make([]byte, inviteCodeBytes)
	if _, err := cryptoRand.Read(b); err != nil {
		return "", err
	}
	s := base64.StdEncoding.EncodeToString(b)
	s = strings.NewReplacer("+", "", "/", "", "=", "").Replace(s)
	return strings.ToUpper(s), nil
}
