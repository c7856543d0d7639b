package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// vendorPublicKey encrypts the password digest on login.
const vendorPublicKey = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQCG46slB57013JJs4Vvj5cVyMpR
9b+B2F+YJU6qhBEYbiEmIdWpFPpOuBikDs2FcPS19MiWq1IrmxJtkICGurqImRUt
4lP688IWlEmqHfSxSRf2+aH0cH8VWZ2OaZn5DWSIHIPBF2kxM71q8stmoYiV0oZs
rZzBHsMuBwA4LQdxBwIDAQAB
-----END PUBLIC KEY-----`

// ParsePublicKey decodes a PEM "PUBLIC KEY" block holding an RSA key.
func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("auth: no PEM block in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is %T, want RSA", key)
	}
	return pub, nil
}

// EncryptPassword produces the login password field: the lower-case MD5
// hex of the password, RSA PKCS#1 v1.5 encrypted, base64 encoded.
func EncryptPassword(pub *rsa.PublicKey, password string) (string, error) {
	digest := md5Hex(password)
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(digest))
	if err != nil {
		return "", fmt.Errorf("auth: encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// SignParams are the inputs of the request signature.
type SignParams struct {
	AppID  string
	Nonce  string
	Time   string
	Token  string // empty before login
	Body   string // raw request body, url-encoded query for GET
	AppKey string
}

// CanonicalString builds the string the signature is computed over.
func CanonicalString(p SignParams) string {
	var b strings.Builder
	b.WriteString("Appid=")
	b.WriteString(p.AppID)
	b.WriteString("&Nonce=")
	b.WriteString(p.Nonce)
	b.WriteString("&Time=")
	b.WriteString(p.Time)
	if p.Token != "" {
		b.WriteString("&Token=")
		b.WriteString(p.Token)
	}
	b.WriteString("&")
	b.WriteString(p.Body)
	b.WriteString("&")
	b.WriteString(p.AppKey)
	return b.String()
}

// Sign returns the MD5 hex digest of the canonical string.
func Sign(p SignParams) string {
	return md5Hex(CanonicalString(p))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
