package wiim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []PlaybackState
	ids     []string
}

func (r *recordingSink) UpdatePlaybackState(entityID string, state PlaybackState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, entityID)
	r.updates = append(r.updates, state)
}

func (r *recordingSink) last() (PlaybackState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return PlaybackState{}, false
	}
	return r.updates[len(r.updates)-1], true
}

func sessionServer(t *testing.T) *deviceServer {
	t.Helper()
	ds := newDeviceServer(t)
	ds.respond("getStatusEx", `{"DeviceName":"Living Room","uuid":"FF31-F09E-1A2B"}`)
	ds.respond("getPlayerStatus", `{"status":"play","mode":"31","vol":"50","totlen":"210000","curpos":"42000"}`)
	ds.respond("getMetaInfo", `{"metaData":{"title":"Song A","artist":"Artist A","album":"Album A"}}`)
	ds.respond("EQGetList", `["Flat","Jazz"]`)
	ds.respond("getPresetInfo", `{"preset_num":1,"preset_list":[{"number":1,"name":"Mix","source":"Spotify"}]}`)
	ds.respond("getNewAudioOutputHardwareMode", `{"hardware":"1","source":"0","audiocast":"0"}`)
	return ds
}

func connectSession(t *testing.T, ds *deviceServer, sink StateSink, clock Clock) *Session {
	t.Helper()
	session, err := Connect(context.Background(), Config{
		Host:   ds.host(),
		Sink:   sink,
		Logger: zerolog.Nop(),
		Clock:  clock,
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func TestConnectBuildsSession(t *testing.T) {
	ds := sessionServer(t)
	sink := &recordingSink{}
	session := connectSession(t, ds, sink, newFakeClock())

	assert.Equal(t, "FF31F09E1A2B", session.EntityID())
	assert.Equal(t, "Living Room", session.DeviceName())

	catalog := session.Capabilities()
	require.NotNil(t, catalog)
	assert.Equal(t, []string{"Flat", "Jazz"}, catalog.EQPresets)
	require.Len(t, catalog.Presets, 1)

	projection := session.Projection()
	require.NotNil(t, projection)
	assert.Contains(t, projection.Commands, "eq_flat")
	assert.Contains(t, projection.Commands, "service_spotify")
}

func TestConnectFailsWhenDeviceUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), Config{
		Host:   "127.0.0.1:1",
		Logger: zerolog.Nop(),
		Clock:  newFakeClock(),
	})
	assert.Error(t, err)
}

func TestConnectGeneratesEntityIDWithoutUUID(t *testing.T) {
	ds := sessionServer(t)
	ds.respond("getStatusEx", `{"DeviceName":"Office"}`)
	session := connectSession(t, ds, nil, newFakeClock())

	assert.NotEmpty(t, session.EntityID())
}

func TestPollOncePushesToSink(t *testing.T) {
	ds := sessionServer(t)
	sink := &recordingSink{}
	session := connectSession(t, ds, sink, newFakeClock())

	state := session.PollOnce(context.Background())

	assert.Equal(t, StatePlaying, state.State)
	assert.Equal(t, "Song A", state.Title)

	last, ok := sink.last()
	require.True(t, ok)
	assert.Equal(t, StatePlaying, last.State)
}

func TestHandleCommandUnknown(t *testing.T) {
	ds := sessionServer(t)
	session := connectSession(t, ds, nil, newFakeClock())

	err := session.HandleCommand(context.Background(), "levitate")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestHandleCommandAbsorbsDeviceErrors(t *testing.T) {
	ds := sessionServer(t)
	session := connectSession(t, ds, nil, newFakeClock())
	ds.setStatus(500)

	err := session.HandleCommand(context.Background(), "pause")
	assert.NoError(t, err)
}

func TestHandleCommandSchedulesRepoll(t *testing.T) {
	ds := sessionServer(t)
	clock := newFakeClock()
	session := connectSession(t, ds, nil, clock)

	require.NoError(t, session.HandleCommand(context.Background(), "pause"))

	received := func() int {
		count := 0
		for _, command := range ds.received() {
			if command == "getPlayerStatus" {
				count++
			}
		}
		return count
	}
	before := received()

	clock.fireAfter()

	require.Eventually(t, func() bool {
		return received() > before
	}, 2*time.Second, 20*time.Millisecond, "deferred re-poll never ran")
}

func TestHandleCommandDeviceFunctionSkipsRepoll(t *testing.T) {
	ds := sessionServer(t)
	clock := newFakeClock()
	session := connectSession(t, ds, nil, clock)

	require.NoError(t, session.HandleCommand(context.Background(), "display_off"))

	received := ds.received()
	assert.Equal(t, `setLightOperationBrightConfig:{"disable":1}`, received[len(received)-1])
}

func TestRefreshCapabilitiesReplacesCatalog(t *testing.T) {
	ds := sessionServer(t)
	session := connectSession(t, ds, nil, newFakeClock())

	ds.respond("EQGetList", `["Flat","Jazz","Rock"]`)
	catalog := session.RefreshCapabilities(context.Background())

	assert.Equal(t, []string{"Flat", "Jazz", "Rock"}, catalog.EQPresets)
	assert.Same(t, catalog, session.Capabilities())
	assert.Contains(t, session.Projection().Commands, "eq_rock")
}

func TestCloseStopsPolling(t *testing.T) {
	ds := sessionServer(t)
	session, err := Connect(context.Background(), Config{
		Host:   ds.host(),
		Logger: zerolog.Nop(),
		Clock:  newFakeClock(),
	})
	require.NoError(t, err)

	session.Close()

	count := len(ds.received())
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, count, len(ds.received()))
}
