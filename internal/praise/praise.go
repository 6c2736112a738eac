// Package praise validates praise submissions and summarizes received ones.
package praise

import (
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/matheuscscp/praise-prison/internal/session"
	"github.com/matheuscscp/praise-prison/internal/store"
)

const (
	MinKeywordLen = 2
	MaxKeywordLen = 20
	MinMessageLen = 10
	MaxMessageLen = 300
)

const (
	msgMissing         = "키워드나 메시지가 입력되지 않았습니다."
	msgKeywordTooShort = "키워드는 최소 2자 이상 입력해주세요."
	msgKeywordTooLong  = "키워드는 20자 이하로 입력해주세요."
	msgMessageTooShort = "이유나 사례를 최소 10자 이상 작성해주세요!"
	msgMessageTooLong  = "내용은 300자 이하로 입력해주세요."
	msgCooldown        = "⛔ 너무 빠릅니다!\n도배 방지를 위해 %d초 뒤에 다시 시도해주세요."
)

var ErrValidation = errors.New("invalid praise")

// ValidationError carries the message shown to the person submitting.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

var policy = bluemonday.StrictPolicy()

// sanitize strips all markup. Rendering escapes the result again, so entities
// produced by the sanitizer are decoded back to plain text.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(s)))
}

// Validate trims and sanitizes a submission and checks its lengths, counted
// in characters.
func Validate(keyword, message string) (string, string, error) {
	keyword = sanitize(keyword)
	message = sanitize(message)
	switch k, m := utf8.RuneCountInString(keyword), utf8.RuneCountInString(message); {
	case k == 0 || m == 0:
		return "", "", invalid(msgMissing)
	case k < MinKeywordLen:
		return "", "", invalid(msgKeywordTooShort)
	case k > MaxKeywordLen:
		return "", "", invalid(msgKeywordTooLong)
	case m < MinMessageLen:
		return "", "", invalid(msgMessageTooShort)
	case m > MaxMessageLen:
		return "", "", invalid(msgMessageTooLong)
	}
	return keyword, message, nil
}

// NewPraise builds the row for a validated submission. The sender is
// recorded only for a signed-in user; the name comes from the provider's
// nickname.
func NewPraise(receiverID, keyword, message string, sender *session.User) (*store.NewPraise, error) {
	keyword, message, err := Validate(keyword, message)
	if err != nil {
		return nil, err
	}
	p := &store.NewPraise{
		ReceiverID: receiverID,
		Keyword:    keyword,
		Message:    message,
	}
	if sender != nil && sender.ID != "" {
		id := sender.ID
		p.SenderID = &id
		if nickname, ok := sender.UserMetadata["nickname"].(string); ok && nickname != "" {
			p.SenderName = &nickname
		}
	}
	return p, nil
}

// CheckCooldown rejects a submission made less than cooldown after the one
// recorded in lastSubmit (milliseconds since the epoch). An unreadable value
// is ignored.
func CheckCooldown(lastSubmit string, now time.Time, cooldown time.Duration) error {
	if lastSubmit == "" {
		return nil
	}
	ms, err := strconv.ParseInt(lastSubmit, 10, 64)
	if err != nil {
		return nil
	}
	elapsed := now.Sub(time.UnixMilli(ms))
	if elapsed < 0 || elapsed >= cooldown {
		return nil
	}
	remaining := int(math.Ceil((cooldown - elapsed).Seconds()))
	return invalid(fmt.Sprintf(msgCooldown, remaining))
}

// CooldownValue is the value recorded after a successful submission.
func CooldownValue(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}
