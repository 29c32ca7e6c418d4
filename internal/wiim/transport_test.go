package wiim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deviceServer fakes the firmware HTTP API and records every command it
// receives.
type deviceServer struct {
	*httptest.Server

	mu        sync.Mutex
	commands  []string
	times     []time.Time
	responses map[string]string
	status    int
}

func newDeviceServer(t *testing.T) *deviceServer {
	t.Helper()
	ds := &deviceServer{
		responses: map[string]string{},
		status:    http.StatusOK,
	}
	ds.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		command := r.URL.Query().Get("command")
		ds.mu.Lock()
		ds.commands = append(ds.commands, command)
		ds.times = append(ds.times, time.Now())
		body, ok := ds.responses[command]
		status := ds.status
		ds.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		if !ok {
			body = "OK"
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(ds.Close)
	return ds
}

func (ds *deviceServer) host() string {
	return strings.TrimPrefix(ds.URL, "https://")
}

func (ds *deviceServer) respond(command, body string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.responses[command] = body
}

func (ds *deviceServer) setStatus(status int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.status = status
}

func (ds *deviceServer) received() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]string(nil), ds.commands...)
}

func (ds *deviceServer) requestTimes() []time.Time {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]time.Time(nil), ds.times...)
}

func newTestClient(t *testing.T, ds *deviceServer) *Client {
	t.Helper()
	return NewClient(ds.host(), zerolog.Nop())
}

func TestSendReturnsBody(t *testing.T) {
	ds := newDeviceServer(t)
	ds.respond("getStatusEx", `{"DeviceName":"Living Room"}`)
	client := newTestClient(t, ds)

	body, err := client.Send(context.Background(), "getStatusEx")
	require.NoError(t, err)
	assert.Equal(t, `{"DeviceName":"Living Room"}`, body)
}

func TestSendThrottlesConsecutiveRequests(t *testing.T) {
	ds := newDeviceServer(t)
	client := newTestClient(t, ds)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Send(ctx, "getPlayerStatus")
		require.NoError(t, err)
	}

	times := ds.requestTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, 150*time.Millisecond, "gap between request %d and %d", i-1, i)
	}
}

func TestSendErrorOnHTTPFailure(t *testing.T) {
	ds := newDeviceServer(t)
	ds.setStatus(http.StatusInternalServerError)
	client := newTestClient(t, ds)

	_, err := client.Send(context.Background(), "getPlayerStatus")
	assert.Error(t, err)
}

func TestSendErrorOnUnreachableDevice(t *testing.T) {
	client := NewClient("127.0.0.1:1", zerolog.Nop())

	_, err := client.Send(context.Background(), "getPlayerStatus")
	assert.Error(t, err)
}

func TestGetPlayerStatusMalformedJSON(t *testing.T) {
	ds := newDeviceServer(t)
	ds.respond("getPlayerStatus", "not json at all")
	client := newTestClient(t, ds)

	_, err := client.GetPlayerStatus(context.Background())
	assert.Error(t, err)
}

func TestGetTrackMetadataWithoutMetaDataIsNotAnError(t *testing.T) {
	ds := newDeviceServer(t)
	ds.respond("getMetaInfo", `{}`)
	client := newTestClient(t, ds)

	metadata, err := client.GetTrackMetadata(context.Background())
	require.NoError(t, err)
	assert.Nil(t, metadata)
}

func TestGetTrackMetadataDecodesMetaData(t *testing.T) {
	ds := newDeviceServer(t)
	ds.respond("getMetaInfo", `{"metaData":{"title":"Song A","artist":"Artist A","album":"Album A"}}`)
	client := newTestClient(t, ds)

	metadata, err := client.GetTrackMetadata(context.Background())
	require.NoError(t, err)
	require.NotNil(t, metadata)
	assert.Equal(t, "Song A", metadata.Title)
	assert.Equal(t, "Artist A", metadata.Artist)
}

func TestSetVolumeClamps(t *testing.T) {
	ds := newDeviceServer(t)
	client := newTestClient(t, ds)
	ctx := context.Background()

	require.NoError(t, client.SetVolume(ctx, 150))
	require.NoError(t, client.SetVolume(ctx, -10))
	require.NoError(t, client.SetVolume(ctx, 42))

	assert.Equal(t, []string{
		"setPlayerCmd:vol:100",
		"setPlayerCmd:vol:0",
		"setPlayerCmd:vol:42",
	}, ds.received())
}

func TestVolumeStepReadsCurrentLevel(t *testing.T) {
	ds := newDeviceServer(t)
	ds.respond("getPlayerStatus", `{"status":"play","vol":"50"}`)
	client := newTestClient(t, ds)
	ctx := context.Background()

	require.NoError(t, client.VolumeUp(ctx))
	require.NoError(t, client.VolumeDown(ctx))

	assert.Equal(t, []string{
		"getPlayerStatus",
		"setPlayerCmd:vol:55",
		"getPlayerStatus",
		"setPlayerCmd:vol:45",
	}, ds.received())
}

func TestToggleMuteFlipsCurrentState(t *testing.T) {
	ds := newDeviceServer(t)
	ds.respond("getPlayerStatus", `{"status":"play","mute":"1"}`)
	client := newTestClient(t, ds)

	require.NoError(t, client.ToggleMute(context.Background()))

	assert.Equal(t, []string{"getPlayerStatus", "setPlayerCmd:mute:0"}, ds.received())
}

func TestCommandWireFormats(t *testing.T) {
	ds := newDeviceServer(t)
	client := newTestClient(t, ds)
	ctx := context.Background()

	require.NoError(t, client.TogglePlayback(ctx))
	require.NoError(t, client.SwitchSource(ctx, "line-in"))
	require.NoError(t, client.SetAudioOutputMode(ctx, 3))
	require.NoError(t, client.SetDisplayOff(ctx, true))
	require.NoError(t, client.EQLoad(ctx, "Flat"))
	require.NoError(t, client.PressPreset(ctx, 4))

	assert.Equal(t, []string{
		"setPlayerCmd:onepause",
		"setPlayerCmd:switchmode:line-in",
		"setAudioOutputHardwareMode:3",
		`setLightOperationBrightConfig:{"disable":1}`,
		"EQLoad:Flat",
		"MCUKeyShortClick:4",
	}, ds.received())
}
