package repair

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"kairos/internal/agent/plan"
	"kairos/internal/apperr"
	"kairos/internal/transport"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence wins", "```\n{\"x\":0}\n```\ntext\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"generic fence", "Sure:\n```\n[1,2]\n```", `[1,2]`},
		{"fence without json skipped", "```go\nfmt.Println()\n```\nthen {\"a\":2}", `{"a":2}`},
		{"prose around object", `Here you go: {"t":"a } b","n":{"m":[1]}} hope it helps {"no":1}`, `{"t":"a } b","n":{"m":[1]}}`},
		{"escaped quote in string", `x {"t":"say \"}\" now"} y`, `{"t":"say \"}\" now"}`},
		{"array first", `result: [{"a":1},{"b":2}] end`, `[{"a":1},{"b":2}]`},
		{"stray bracket before object", `see [1) then {"a":[2]}`, `{"a":[2]}`},
		{"unclosed prefix", `{ oops, here: {"a":1}`, `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Extract(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractFailures(t *testing.T) {
	_, err := Extract("   ")
	assert.ErrorIs(t, err, ErrEmptyOutput)
	_, err = Extract("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
	_, err = Extract(`{"a": [1, 2}`)
	assert.ErrorIs(t, err, ErrNoJSON)
}

const validPlan = `{"creates":[{"clientRequestId":"c1","title":"Call the bank"}]}`

func TestParseAndValidateFirstTry(t *testing.T) {
	tr := transport.NewScripted()
	res, err := ParseAndValidate(context.Background(), Loop{Transport: tr, MaxRepairs: 2}, "```json\n"+validPlan+"\n```", plan.DecodeTaskPlan)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.RepairCount)
	assert.Len(t, res.Value.(*plan.TaskPlan).Creates, 1)
	assert.Empty(t, tr.Calls())
}

func TestParseAndValidateRepairs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tr := transport.NewScripted(transport.Texts(`{"creates":[{"title":"missing id"}]}`, validPlan)...)
	res, err := ParseAndValidate(context.Background(), Loop{Transport: tr, MaxRepairs: 2, Logger: zap.New(core)},
		`I think {"creates": [` /* truncated */, plan.DecodeTaskPlan)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RepairCount)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, SystemPrompt, calls[0].System)
	assert.Contains(t, calls[1].User, "clientRequestId")
	assert.Equal(t, 2, logs.FilterMessage("repairing model output").Len())
}

func TestParseAndValidateExhausted(t *testing.T) {
	tr := transport.NewScripted(transport.Texts("nope", "still nope")...)
	res, err := ParseAndValidate(context.Background(), Loop{Transport: tr, MaxRepairs: 2}, "garbage", plan.DecodeTaskPlan)
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.RepairCount)
	assert.ErrorIs(t, res.LastErr, ErrNoJSON)
	assert.Len(t, tr.Calls(), 2)
}

func TestParseAndValidateNoRepairBudget(t *testing.T) {
	tr := transport.NewScripted()
	_, err := ParseAndValidate(context.Background(), Loop{Transport: tr}, `{"creates": 5}`, plan.DecodeTaskPlan)
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
	assert.Empty(t, tr.Calls())
}

func TestParseAndValidateTransportFailure(t *testing.T) {
	tr := transport.NewScripted(transport.Reply{Err: errors.New("connection reset")})
	res, err := ParseAndValidate(context.Background(), Loop{Transport: tr, MaxRepairs: 2}, "{", plan.DecodeTaskPlan)
	assert.Equal(t, apperr.ModelUnavailable, apperr.KindOf(err))
	assert.Equal(t, 1, res.RepairCount)
}

func TestParseAndValidateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := transport.NewScripted(transport.Texts(validPlan)...)
	_, err := ParseAndValidate(ctx, Loop{Transport: tr, MaxRepairs: 2}, "bad", plan.DecodeTaskPlan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.Calls())
}

func TestParseAndValidateGenericDecoder(t *testing.T) {
	decode := func(b []byte) (map[string]int, error) {
		var m map[string]int
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		if m["n"] < 1 {
			return nil, errors.New("n must be positive")
		}
		return m, nil
	}
	tr := transport.NewScripted(transport.Texts(`{"n": 3}`)...)
	res, err := ParseAndValidate(context.Background(), Loop{Transport: tr, MaxRepairs: 1}, `{"n": 0}`, decode)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Value["n"])
	assert.True(t, strings.Contains(tr.Calls()[0].User, "n must be positive"))
}
