package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"VaultLedger/internal/event"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type
// string) into a typed event.Command. The shell validates and converts
// before anything reaches the engine.
func ParseRawCommand(raw RawCommand) (event.Command, error) {
	switch raw.CommandType {
	case "DepositRequest":
		return parseDepositRequest(raw.Data)
	case "WithdrawRequest":
		return parseWithdrawRequest(raw.Data)
	case "ClaimRequest":
		return parseClaimRequest(raw.Data)
	case "NavReport":
		return parseNavReport(raw.Data)
	case "FeeUpdate":
		return parseFeeUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", raw.CommandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type depositRequestJSON struct {
	CommandID string `json:"command_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseDepositRequest(data []byte) (*event.DepositRequest, error) {
	var j depositRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRequest: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", j.Amount)
	}
	return &event.DepositRequest{
		CommandID: commandID,
		User:      userID,
		Amount:    j.Amount,
		Timestamp: j.Timestamp,
		Sequence:  j.Sequence,
	}, nil
}

type withdrawRequestJSON struct {
	CommandID string `json:"command_id"`
	UserID    string `json:"user_id"`
	Shares    int64  `json:"shares"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseWithdrawRequest(data []byte) (*event.WithdrawRequest, error) {
	var j withdrawRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawRequest: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	if j.Shares <= 0 {
		return nil, fmt.Errorf("withdraw shares must be positive, got %d", j.Shares)
	}
	return &event.WithdrawRequest{
		CommandID: commandID,
		User:      userID,
		Shares:    j.Shares,
		Timestamp: j.Timestamp,
		Sequence:  j.Sequence,
	}, nil
}

type claimRequestJSON struct {
	CommandID string `json:"command_id"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseClaimRequest(data []byte) (*event.ClaimRequest, error) {
	var j claimRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRequest: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.ClaimRequest{
		CommandID: commandID,
		User:      userID,
		Timestamp: j.Timestamp,
		Sequence:  j.Sequence,
	}, nil
}

type navReportJSON struct {
	CommandID  string `json:"command_id"`
	OperatorID string `json:"operator_id"`
	Nav        int64  `json:"nav"`
	AsOf       int64  `json:"as_of"`
	Sequence   int64  `json:"sequence"`
}

func parseNavReport(data []byte) (*event.NavReport, error) {
	var j navReportJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse NavReport: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	operatorID, err := uuid.Parse(j.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("parse operator_id: %w", err)
	}
	if j.Nav < 0 {
		return nil, fmt.Errorf("nav must be non-negative, got %d", j.Nav)
	}
	return &event.NavReport{
		CommandID: commandID,
		Operator:  operatorID,
		Nav:       j.Nav,
		AsOf:      j.AsOf,
		Sequence:  j.Sequence,
	}, nil
}

type feeUpdateJSON struct {
	CommandID  string `json:"command_id"`
	OperatorID string `json:"operator_id"`
	MgmtFeeWad int64  `json:"mgmt_fee_wad"`
	PerfFeeWad int64  `json:"perf_fee_wad"`
	Timestamp  int64  `json:"timestamp"`
	Sequence   int64  `json:"sequence"`
}

func parseFeeUpdate(data []byte) (*event.FeeUpdate, error) {
	var j feeUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FeeUpdate: %w", err)
	}
	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	operatorID, err := uuid.Parse(j.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("parse operator_id: %w", err)
	}
	return &event.FeeUpdate{
		CommandID:  commandID,
		Operator:   operatorID,
		MgmtFeeWad: j.MgmtFeeWad,
		PerfFeeWad: j.PerfFeeWad,
		Timestamp:  j.Timestamp,
		Sequence:   j.Sequence,
	}, nil
}
