package verification

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const payloadPrefix = "captcha"

var ErrInvalidPayload = errors.New("invalid verification payload")

// Payload is the callback data bound to a challenge button.
type Payload struct {
	UserID int64
	Nonce  string
}

func (p Payload) String() string {
	return payloadPrefix + ":" + strconv.FormatInt(p.UserID, 10) + ":" + p.Nonce
}

// IsPayload reports whether callback data belongs to a verification button.
func IsPayload(data string) bool {
	return strings.HasPrefix(data, payloadPrefix+":")
}

func ParsePayload(data string) (Payload, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != payloadPrefix || parts[2] == "" {
		return Payload{}, ErrInvalidPayload
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return Payload{}, ErrInvalidPayload
	}
	return Payload{UserID: userID, Nonce: parts[2]}, nil
}
