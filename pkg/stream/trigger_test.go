package stream

import (
	"io"
	"log/slog"
	"testing"

	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetector_ProtocolSwitchTrigger(t *testing.T) {
	ctx := NewContext("cam1", mediatypes.ModeAuto)
	ctx.AddViewer(mediatypes.ViewerContext{ClientID: "c1", PreferredProtocol: mediatypes.ProtocolFLV})

	d := NewDetector(testLogger())
	fired := d.Evaluate(ctx, mediatypes.ProtocolHLS, []Trigger{{Kind: TriggerProtocolSwitch}})
	require.True(t, fired)
}

func TestDetector_ClientThresholdTrigger(t *testing.T) {
	ctx := NewContext("cam1", mediatypes.ModeAuto)
	for i := 0; i < 5; i++ {
		ctx.AddViewer(mediatypes.ViewerContext{ClientID: string(rune('a' + i)), PreferredProtocol: mediatypes.ProtocolFLV})
	}

	d := NewDetector(testLogger())
	fired := d.Evaluate(ctx, mediatypes.ProtocolFLV, []Trigger{{Kind: TriggerClientThreshold, Count: 5}})
	require.True(t, fired)
}

func TestDetector_NeverTrigger(t *testing.T) {
	ctx := NewContext("cam1", mediatypes.ModeAuto)
	d := NewDetector(testLogger())
	fired := d.Evaluate(ctx, mediatypes.ProtocolFLV, []Trigger{{Kind: TriggerNever}})
	require.False(t, fired)
}

func TestProcessor_AutoSwitchesToTranscode(t *testing.T) {
	ctx := NewContext("cam1", mediatypes.ModeAuto)
	d := NewDetector(testLogger())

	var changedTo mediatypes.StreamMode
	p := NewProcessor(ctx, d, []Trigger{{Kind: TriggerClientThreshold, Count: 2}}, testLogger(), func(m mediatypes.StreamMode) {
		changedTo = m
	})

	p.OnViewerJoin(mediatypes.ViewerContext{ClientID: "c1", PreferredProtocol: mediatypes.ProtocolFLV})
	require.Equal(t, mediatypes.ModePassthrough, p.EffectiveMode())

	p.OnViewerJoin(mediatypes.ViewerContext{ClientID: "c2", PreferredProtocol: mediatypes.ProtocolFLV})
	require.Equal(t, mediatypes.ModeTranscode, p.EffectiveMode())
	require.Equal(t, mediatypes.ModeTranscode, changedTo)
}
