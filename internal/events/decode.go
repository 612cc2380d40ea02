package events

import (
	"encoding/json"
	"fmt"
)

// Decode helpers for stage handlers. A decode failure is fatal for the
// single record: the caller logs and moves past it.

func DecodeNews(payload []byte) (*NewsEvent, error) {
	var e NewsEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode news event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func DecodeEntity(payload []byte) (*EntityEvent, error) {
	var e EntityEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode entity event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func DecodeSignal(payload []byte) (*SignalEvent, error) {
	var e SignalEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode signal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func DecodeIntent(payload []byte) (*OrderIntent, error) {
	var e OrderIntent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode order intent: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func DecodeRiskDecision(payload []byte) (*RiskDecision, error) {
	var e RiskDecision
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode risk decision: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func DecodeExecutionReport(payload []byte) (*ExecutionReport, error) {
	var e ExecutionReport
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode execution report: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func DecodePnL(payload []byte) (*PnLSnapshot, error) {
	var e PnLSnapshot
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode pnl snapshot: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeInto unmarshals a payload into any event struct without
// validation. Used for loosely-structured events like risk alerts.
func DecodeInto(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// Marshal encodes an event for publication. Events are plain structs so
// this cannot fail in practice; a failure is surfaced to the handler.
func Marshal(event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
