package protocol

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protocolErr(t *testing.T, err error) *Error {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "want *protocol.Error, got %v", err)
	return perr
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"cmd":"zone","zone":"Deep Archive"}`))
	require.NoError(t, err)
	assert.Equal(t, CmdZone, req.Cmd)

	var p ZonePayload
	require.NoError(t, req.DecodePayload(&p))
	assert.Equal(t, "Deep Archive", *p.Zone)
}

func TestDecodeRequest_ReadsOnlyFirstObject(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"cmd":"status"} {"cmd":"exec"}`))
	require.NoError(t, err)
	assert.Equal(t, CmdStatus, req.Cmd)
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty", ``, "empty request"},
		{"malformed", `{"cmd":`, "malformed JSON"},
		{"not object", `["status"]`, "must be a JSON object"},
		{"no cmd", `{"text":"hi"}`, `missing required field "cmd"`},
		{"cmd wrong type", `{"cmd":7}`, "invalid cmd"},
		{"unknown", `{"cmd":"dance"}`, `unknown command "dance"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.input))
			perr := protocolErr(t, err)
			assert.Equal(t, KindProtocol, perr.Kind)
			assert.Contains(t, perr.Message, tt.wantMsg)
		})
	}
}

func TestDecodeRequest_TooLarge(t *testing.T) {
	big := `{"cmd":"thought","text":"` + strings.Repeat("a", MaxRequestSize) + `"}`
	_, err := DecodeRequest(strings.NewReader(big))
	perr := protocolErr(t, err)
	assert.Contains(t, perr.Message, "exceeds")
}

func TestDecodePayload_RequiredFields(t *testing.T) {
	tests := []struct {
		input string
		p     Payload
		field string
	}{
		{`{"cmd":"thought"}`, &ThoughtPayload{}, "text"},
		{`{"cmd":"exec"}`, &ExecPayload{}, "command"},
		{`{"cmd":"intent"}`, &IntentPayload{}, "text"},
		{`{"cmd":"autonomous"}`, &AutonomousPayload{}, "enabled"},
		{`{"cmd":"zone"}`, &ZonePayload{}, "zone"},
		{`{"cmd":"crystal"}`, &CrystalPayload{}, "content"},
		{`{"cmd":"presence"}`, &PresencePayload{}, "level"},
		{`{"cmd":"emotion"}`, &EmotionPayload{}, "state"},
		{`{"cmd":"breadcrumb","context":"","emotion":""}`, &BreadcrumbPayload{}, "word"},
		{`{"cmd":"breadcrumb","word":"w","emotion":""}`, &BreadcrumbPayload{}, "context"},
		{`{"cmd":"breadcrumb","word":"w","context":""}`, &BreadcrumbPayload{}, "emotion"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			req, err := DecodeRequest(strings.NewReader(tt.input))
			require.NoError(t, err)
			perr := protocolErr(t, req.DecodePayload(tt.p))
			assert.Equal(t, `missing required field "`+tt.field+`"`, perr.Message)
			assert.Equal(t, tt.field, perr.Details["field"])
		})
	}
}

func TestDecodePayload_ZeroValuesArePresent(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"cmd":"autonomous","enabled":false}`))
	require.NoError(t, err)
	var a AutonomousPayload
	require.NoError(t, req.DecodePayload(&a))
	assert.False(t, *a.Enabled)

	req, err = DecodeRequest(strings.NewReader(`{"cmd":"presence","level":0}`))
	require.NoError(t, err)
	var p PresencePayload
	require.NoError(t, req.DecodePayload(&p))
	assert.Equal(t, 0.0, *p.Level)

	req, err = DecodeRequest(strings.NewReader(`{"cmd":"breadcrumb","word":"w","context":"","emotion":""}`))
	require.NoError(t, err)
	assert.NoError(t, req.DecodePayload(&BreadcrumbPayload{}))
}

func TestDecodePayload_WrongType(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"cmd":"presence","level":"high"}`))
	require.NoError(t, err)
	perr := protocolErr(t, req.DecodePayload(&PresencePayload{}))
	assert.Contains(t, perr.Message, `"level"`)
}

func TestPresenceClampedLevel(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want int
	}{
		{"150", 100},
		{"-5", 0},
		{"42", 42},
		{"42.7", 42},
		{"1e3", 100},
		{"99999999999999999999", 100},
		{"-1e30", 0},
	} {
		req, err := DecodeRequest(strings.NewReader(`{"cmd":"presence","level":` + tc.raw + `}`))
		require.NoError(t, err)
		var p PresencePayload
		require.NoError(t, req.DecodePayload(&p), tc.raw)
		assert.Equal(t, tc.want, p.ClampedLevel(), tc.raw)
	}
}

func TestExecTimeout(t *testing.T) {
	secs := func(v float64) *float64 { return &v }
	assert.Equal(t, time.Duration(0), (&ExecPayload{}).Timeout())
	assert.Equal(t, 1500*time.Millisecond, (&ExecPayload{TimeoutSeconds: secs(1.5)}).Timeout())

	// Huge values saturate instead of wrapping negative.
	for _, v := range []float64{1e10, 1e300} {
		assert.Equal(t, time.Duration(math.MaxInt64), (&ExecPayload{TimeoutSeconds: secs(v)}).Timeout())
	}
}

func TestThoughtsWindow(t *testing.T) {
	n := func(v int) *int { return &v }
	assert.Equal(t, DefaultThoughts, (&ThoughtsPayload{}).Window())
	assert.Equal(t, DefaultThoughts, (&ThoughtsPayload{N: n(0)}).Window())
	assert.Equal(t, 7, (&ThoughtsPayload{N: n(7)}).Window())
	assert.Equal(t, MaxThoughts, (&ThoughtsPayload{N: n(10000)}).Window())
}

func TestParseCommand_AllKnown(t *testing.T) {
	for _, c := range Commands() {
		got, err := ParseCommand(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestEncodeResponse(t *testing.T) {
	data, err := EncodeResponse(Errorf(KindValidation, "unknown zone %q", "<x>").Result())
	require.NoError(t, err)
	assert.Equal(t, `{"error":"unknown zone \"<x>\"","kind":"validation"}`+"\n", string(data))
}
