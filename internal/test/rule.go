package test

import (
	"MPC_SESSION/internal/round"
	"MPC_SESSION/pkg/party"
)

// Rule describes a hook applied to messages in flight.
type Rule interface {
	// ModifyMessage returns the message to deliver in place of msg, or nil to drop it.
	ModifyMessage(msg *round.Message) *round.Message
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(msg *round.Message) *round.Message

func (f RuleFunc) ModifyMessage(msg *round.Message) *round.Message {
	return f(msg)
}

// Tamper replaces the body of every message sent by sender in round number.
func Tamper(number round.Number, sender party.Index, body func([]byte) []byte) Rule {
	return RuleFunc(func(msg *round.Message) *round.Message {
		if msg.Round != number || msg.Sender != sender {
			return msg
		}
		m := *msg
		m.Body = body(msg.Body)
		return &m
	})
}
