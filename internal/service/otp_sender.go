package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// OTPSender delivers a message to a phone. *client.SMSClient satisfies it.
type OTPSender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender writes the message to the log instead of sending it. It is what
// the server uses when no SMS gateway is configured.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"message": message,
	}).Info("OTP generated (logged for development)")
	return nil
}
