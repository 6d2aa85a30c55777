package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
)

// CallbackMessage is the broker payload for one vendor status callback.
type CallbackMessage struct {
	MessageID  string                `json:"messageId"`
	Callback   domain.StatusCallback `json:"callback"`
	ReceivedAt time.Time             `json:"receivedAt"`
}

func (m CallbackMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if err := m.Callback.Validate(); err != nil {
		return err
	}
	return nil
}
