package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenstream/enrichment-gateway/internal/metrics"
	"github.com/tokenstream/enrichment-gateway/internal/registry/memory"
	"github.com/tokenstream/enrichment-gateway/internal/types"
)

func testSession(hub *Hub, reg *memory.Registry, username string, settings types.SubscriberSettings) *Session {
	s := newSession(nil, hub, reg, hub.metrics, zerolog.Nop())
	s.Username = username
	s.state = stateAuthenticated
	s.setSettings(settings)
	return s
}

func TestHub_DispatchSendsToAdmittingSessionOnly(t *testing.T) {
	reg := memory.New()
	hub := NewHub(metrics.New(), reg, zerolog.Nop())

	admits := testSession(hub, reg, "admits", types.SubscriberSettings{})
	rejects := testSession(hub, reg, "rejects", types.SubscriberSettings{EnableAvgMCap: true, MinAvgMCap: 1_000_000})

	hub.register(admits)
	hub.register(rejects)
	assert.Equal(t, 2, hub.ActiveCount())

	token := types.EnrichedToken{
		RawToken: types.RawToken{TokenAddress: "tok1", DeployerAddress: "0xBEEF"},
		Deployer: types.DeployerStats{AvgMCap: 100},
	}
	hub.Dispatch(context.Background(), token)

	select {
	case data := <-admits.send:
		var frame types.TokenFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, "tok1", frame.Data.TokenAddress)
	default:
		t.Fatal("expected admitting session to receive a frame")
	}

	select {
	case <-rejects.send:
		t.Fatal("rejecting session should not have received a frame")
	default:
	}

	snapshot := hub.Snapshot()
	assert.EqualValues(t, 1, snapshot.TokensReceived)
	assert.EqualValues(t, 1, snapshot.TokensSent)
	assert.EqualValues(t, 1, snapshot.TokensFiltered)
}

func TestHub_DispatchHonorsDenyList(t *testing.T) {
	reg := memory.New()
	hub := NewHub(metrics.New(), reg, zerolog.Nop())

	s := testSession(hub, reg, "subscriber", types.SubscriberSettings{})
	hub.register(s)
	require.NoError(t, reg.AddDenyEntry(context.Background(), "subscriber", types.ListEntry{DeployerAddress: "0xDEAD"}))

	token := types.EnrichedToken{RawToken: types.RawToken{TokenAddress: "tok2", DeployerAddress: "0xDEAD"}}
	hub.Dispatch(context.Background(), token)

	select {
	case <-s.send:
		t.Fatal("denied deployer's token should not have been sent")
	default:
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	reg := memory.New()
	hub := NewHub(metrics.New(), reg, zerolog.Nop())
	s := testSession(hub, reg, "subscriber", types.SubscriberSettings{})

	hub.register(s)
	hub.unregister(s)
	assert.Equal(t, 0, hub.ActiveCount())

	_, ok := <-s.send
	assert.False(t, ok)
}
