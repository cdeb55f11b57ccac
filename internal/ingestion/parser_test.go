package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, commandType string, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:     "test",
		CommandType: commandType,
		Data:        data,
		Received:    time.Now(),
		AckFunc:     func() {},
		NakFunc:     func() {},
	}
}

func TestParseDepositRequest(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":     int64(1_000_000),
		"timestamp":  int64(1_700_000_000),
		"sequence":   int64(7),
	}

	raw := rawFromJSON(t, "DepositRequest", payload)
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dr, ok := cmd.(*event.DepositRequest)
	if !ok {
		t.Fatalf("expected *event.DepositRequest, got %T", cmd)
	}

	if dr.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", dr.Amount)
	}
	if dr.Timestamp != 1_700_000_000 {
		t.Errorf("timestamp: got %d, want 1_700_000_000", dr.Timestamp)
	}
	if dr.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", dr.Sequence)
	}
	if dr.EventType() != event.EventTypeDepositQueued {
		t.Errorf("event type: got %v, want DepositQueued", dr.EventType())
	}
}

func TestParseDepositRequest_RejectsNonPositiveAmount(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"amount":     int64(0),
		"timestamp":  int64(1_700_000_000),
		"sequence":   int64(0),
	}

	raw := rawFromJSON(t, "DepositRequest", payload)
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestParseWithdrawRequest(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"shares":     int64(5_000_000_000),
		"timestamp":  int64(1_700_000_100),
		"sequence":   int64(8),
	}

	raw := rawFromJSON(t, "WithdrawRequest", payload)
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wr, ok := cmd.(*event.WithdrawRequest)
	if !ok {
		t.Fatalf("expected *event.WithdrawRequest, got %T", cmd)
	}

	if wr.Shares != 5_000_000_000 {
		t.Errorf("shares: got %d, want 5_000_000_000", wr.Shares)
	}
	if wr.EventType() != event.EventTypeWithdrawQueued {
		t.Errorf("event type: got %v, want WithdrawQueued", wr.EventType())
	}
}

func TestParseClaimRequest(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"timestamp":  int64(1_700_000_200),
		"sequence":   int64(9),
	}

	raw := rawFromJSON(t, "ClaimRequest", payload)
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cr, ok := cmd.(*event.ClaimRequest)
	if !ok {
		t.Fatalf("expected *event.ClaimRequest, got %T", cmd)
	}
	if cr.UserID() == nil {
		t.Fatal("claim must carry a user partition")
	}
}

func TestParseNavReport(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":  "550e8400-e29b-41d4-a716-446655440000",
		"operator_id": "770e8400-e29b-41d4-a716-446655440002",
		"nav":         int64(250_000_000),
		"as_of":       int64(1_700_086_400),
		"sequence":    int64(3),
	}

	raw := rawFromJSON(t, "NavReport", payload)
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	nr, ok := cmd.(*event.NavReport)
	if !ok {
		t.Fatalf("expected *event.NavReport, got %T", cmd)
	}

	if nr.Nav != 250_000_000 {
		t.Errorf("nav: got %d, want 250_000_000", nr.Nav)
	}
	if nr.AsOf != 1_700_086_400 {
		t.Errorf("as_of: got %d, want 1_700_086_400", nr.AsOf)
	}
	if nr.UserID() != nil {
		t.Error("nav report must be on the global partition")
	}
}

func TestParseNavReport_RejectsNegativeNav(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":  "550e8400-e29b-41d4-a716-446655440000",
		"operator_id": "770e8400-e29b-41d4-a716-446655440002",
		"nav":         int64(-1),
		"as_of":       int64(1_700_086_400),
		"sequence":    int64(3),
	}

	raw := rawFromJSON(t, "NavReport", payload)
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected error for negative nav")
	}
}

func TestParseFeeUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"command_id":   "550e8400-e29b-41d4-a716-446655440000",
		"operator_id":  "770e8400-e29b-41d4-a716-446655440002",
		"mgmt_fee_wad": int64(20_000_000_000_000_000),
		"perf_fee_wad": int64(200_000_000_000_000_000),
		"timestamp":    int64(1_700_000_300),
		"sequence":     int64(4),
	}

	raw := rawFromJSON(t, "FeeUpdate", payload)
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	fu, ok := cmd.(*event.FeeUpdate)
	if !ok {
		t.Fatalf("expected *event.FeeUpdate, got %T", cmd)
	}

	if fu.MgmtFeeWad != 20_000_000_000_000_000 {
		t.Errorf("mgmt_fee_wad: got %d", fu.MgmtFeeWad)
	}
	if fu.PerfFeeWad != 200_000_000_000_000_000 {
		t.Errorf("perf_fee_wad: got %d", fu.PerfFeeWad)
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawCommand{CommandType: "NonExistentType", Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{CommandType: "DepositRequest", Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"command_id": "not-a-uuid",
		"user_id":    "also-not-a-uuid",
		"amount":     int64(1),
		"timestamp":  int64(0),
		"sequence":   int64(0),
	}

	raw := rawFromJSON(t, "DepositRequest", payload)
	if _, err := ingestion.ParseRawCommand(raw); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
