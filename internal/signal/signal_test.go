package signal

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := `{"callId":"alice_bob_1700000000000","callerId":"alice","callerName":"Alice","callType":"video","timestamp":1700000000000,"status":"ringing"}`

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid ringing", valid, false},
		{"valid accepted", `{"callId":"x","callerId":"alice","callType":"audio","timestamp":1,"status":"accepted"}`, false},
		{"empty payload", ``, true},
		{"not json", `{{{`, true},
		{"missing callId", `{"callerId":"alice","callType":"audio","timestamp":1,"status":"ringing"}`, true},
		{"missing callerId", `{"callId":"x","callType":"audio","timestamp":1,"status":"ringing"}`, true},
		{"bad callType", `{"callId":"x","callerId":"alice","callType":"screenshare","timestamp":1,"status":"ringing"}`, true},
		{"missing callType", `{"callId":"x","callerId":"alice","timestamp":1,"status":"ringing"}`, true},
		{"bad status", `{"callId":"x","callerId":"alice","callType":"audio","timestamp":1,"status":"paused"}`, true},
		{"missing status", `{"callId":"x","callerId":"alice","callType":"audio","timestamp":1}`, true},
		{"unknown extra field ignored", `{"callId":"x","callerId":"alice","callType":"audio","timestamp":1,"status":"ringing","futureField":true}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Validate([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate() = %+v, want error", sig)
				}
				if !errors.Is(err, ErrInvalidSignal) {
					t.Errorf("error %v is not ErrInvalidSignal", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestEncodeFieldNames(t *testing.T) {
	raw, err := Encode(&CallSignal{
		CallID:       "alice_bob_1700000000000",
		CallerID:     "alice",
		CallerName:   "Alice",
		CallerAvatar: "https://example.com/a.png",
		CallType:     CallTypeVideo,
		Timestamp:    1700000000000,
		Status:       StatusRinging,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Field names are the wire contract
	for _, key := range []string{"callId", "callerId", "callerName", "callerAvatar", "callType", "timestamp", "status"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("encoded signal missing field %q", key)
		}
	}
}

func TestEncodeOmitsEmptyOptionalFields(t *testing.T) {
	raw, err := Encode(&CallSignal{
		CallID:    "x",
		CallerID:  "alice",
		CallType:  CallTypeAudio,
		Timestamp: 1,
		Status:    StatusRinging,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["callerName"]; ok {
		t.Error("empty callerName should be omitted")
	}
	if _, ok := fields["callerAvatar"]; ok {
		t.Error("empty callerAvatar should be omitted")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusRinging.Terminal() {
		t.Error("ringing must not be terminal")
	}
	for _, s := range []Status{StatusAccepted, StatusDeclined, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	sig := &CallSignal{Timestamp: now.Add(-3 * time.Minute).UnixMilli()}

	if !sig.Expired(2*time.Minute, now) {
		t.Error("3-minute-old signal should be expired with a 2-minute window")
	}
	if sig.Expired(5*time.Minute, now) {
		t.Error("3-minute-old signal should not be expired with a 5-minute window")
	}
}
