package storage

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
	"github.com/uhyunpark/tulipdesk/pkg/app/personas"
)

func encodeOrder(o *orders.Order) ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}
	return data, nil
}

func decodeOrder(b []byte) (*orders.Order, error) {
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &o, nil
}

func encodePersona(p *personas.Persona) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal persona: %w", err)
	}
	return data, nil
}

func decodePersona(b []byte) (*personas.Persona, error) {
	var p personas.Persona
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal persona: %w", err)
	}
	return &p, nil
}
