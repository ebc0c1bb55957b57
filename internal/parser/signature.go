package parser

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// BuildSignature computes the hex HMAC-SHA256 signature for a request. The
// signed message is "{timestamp}.{METHOD}.{path}.{body_sha256}".
func BuildSignature(secret string, timestamp int64, method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	message := fmt.Sprintf("%d.%s.%s.%s",
		timestamp,
		strings.ToUpper(method),
		path,
		hex.EncodeToString(bodyHash[:]),
	)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
