package streaming

import (
	"encoding/json"
	"errors"

	"txwatch/internal/domain"
)

type MessageType string

const (
	MessageTypeSubmitted MessageType = "submitted"
	MessageTypeChecked   MessageType = "checked"
	MessageTypeFinalized MessageType = "finalized"
)

// Message is one transaction lifecycle event on the wire.
type Message struct {
	Type         MessageType     `json:"type"`
	ChainID      uint64          `json:"chain_id"`
	TraceID      string          `json:"trace_id,omitempty"`
	Hash         string          `json:"hash"`
	Summary      string          `json:"summary,omitempty"`
	AddedTime    int64           `json:"added_time,omitempty"`
	CheckedBlock uint64          `json:"checked_block,omitempty"`
	Receipt      *domain.Receipt `json:"receipt,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	switch msg.Type {
	case MessageTypeSubmitted, MessageTypeChecked, MessageTypeFinalized:
	default:
		return errors.New("unknown message type")
	}
	if msg.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if msg.Hash == "" {
		return errors.New("hash is required")
	}
	if msg.Type == MessageTypeFinalized && msg.Receipt == nil {
		return errors.New("finalized message requires a receipt")
	}
	return nil
}
