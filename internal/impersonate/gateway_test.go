package impersonate

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cloudcutter/internal/crypto"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/services/httpserver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.topic, f.payload = topic, payload
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *device.Registry, *fakePublisher) {
	t.Helper()
	reg := device.NewRegistry()
	d := device.New("abcd1234abcd1234", "01234567890123456789012345678901", "", "")
	d.EncryptionType = crypto.EncryptionECB
	d.AESKey = d.AuthKey
	reg.Add(d)

	pub := &fakePublisher{}
	g := NewGateway(events.NewBus(), reg, pub, "10.0.0.1", "10.0.0.1", t.TempDir())
	t.Cleanup(g.Close)
	return g, reg, pub
}

func encryptedRequest(t *testing.T, uuid string, encType int, aesKey []byte, payload map[string]any) *httpserver.Request {
	t.Helper()
	payload["softVer"] = "1.0.0"
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	wire, err := crypto.EncryptWire(encType, aesKey, body)
	require.NoError(t, err)
	return &httpserver.Request{
		Method:  "POST",
		Path:    "/d.json",
		Query:   map[string]string{"uuid": uuid},
		Headers: map[string]string{},
		Body:    map[string]any{"data": hex.EncodeToString(wire)},
	}
}

func TestActivateReturnsSchemaAndKeys(t *testing.T) {
	g, reg, _ := newTestGateway(t)
	d, err := reg.GetByUUID("abcd1234abcd1234")
	require.NoError(t, err)
	d.EncryptionType = crypto.EncryptionECB
	d.AESKey = d.AuthKey

	r := encryptedRequest(t, d.UUID, d.EncryptionType, d.AESKey, map[string]any{})
	ch, cancel := events.Subscribe[*events.DeviceActiveEvent](g.bus, 1)
	defer cancel()

	resp, err := g.activate(r)
	require.NoError(t, err)

	envelope, ok := resp.(map[string]any)
	require.True(t, ok)
	_, ok = envelope["result"].(string)
	require.True(t, ok)

	select {
	case e := <-ch:
		assert.Equal(t, d.UUID, e.UUID)
	default:
		t.Fatal("expected DeviceActiveEvent")
	}
}

func TestSchemaReplayWithFixtureReturnsEnvelope(t *testing.T) {
	g, reg, _ := newTestGateway(t)
	d, err := reg.GetByUUID("abcd1234abcd1234")
	require.NoError(t, err)

	fixture := `{"result":{"devId":"DUMMY","ok":true}}`
	require.NoError(t, os.WriteFile(filepath.Join(g.schemaDir, "tuya.device.ping.json"), []byte(fixture), 0o644))

	r := encryptedRequest(t, d.UUID, d.EncryptionType, d.AESKey, map[string]any{})
	r.Query["a"] = "tuya.device.ping"

	resp, err := g.schemaReplay(r)
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestSchemaReplayMissingFixtureReturnsEmptyResult(t *testing.T) {
	g, reg, _ := newTestGateway(t)
	d, err := reg.GetByUUID("abcd1234abcd1234")
	require.NoError(t, err)

	r := encryptedRequest(t, d.UUID, d.EncryptionType, d.AESKey, map[string]any{})
	r.Query["a"] = "tuya.device.unknown"

	resp, err := g.schemaReplay(r)
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestUrlConfigDispatchesOnGetAndPost(t *testing.T) {
	g, _, _ := newTestGateway(t)
	router := httpserver.NewRouter()
	require.NoError(t, g.Register(router))

	for _, method := range []string{"GET", "POST"} {
		req := &httpserver.Request{
			Method: method,
			Path:   "/v1/url_config",
			Host:   "h1.iot-dns.com",
			Query:  map[string]string{},
		}
		resp, err, matched := router.Dispatch(req)
		require.NoError(t, err)
		require.True(t, matched, "%s /v1/url_config should match a route", method)
		assert.NotNil(t, resp)
	}
}

func TestFilesGetStreamsFirmwareAndPublishesEvent(t *testing.T) {
	g, reg, _ := newTestGateway(t)
	d, err := reg.GetByUUID("abcd1234abcd1234")
	require.NoError(t, err)

	fw := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(fw, []byte("firmware"), 0o644))
	d.FirmwarePath = fw

	ch, cancel := events.Subscribe[*events.UpgradeDownloadEvent](g.bus, 1)
	defer cancel()

	resp, err := g.filesGet(&httpserver.Request{Path: "/files/" + d.UUID})
	require.NoError(t, err)
	assert.Equal(t, httpserver.FilePath(fw), resp)

	select {
	case e := <-ch:
		assert.Equal(t, d.UUID, e.UUID)
	default:
		t.Fatal("expected UpgradeDownloadEvent")
	}
}

func TestFilesGetUnknownDeviceErrors(t *testing.T) {
	g, _, _ := newTestGateway(t)
	_, err := g.filesGet(&httpserver.Request{Path: "/files/nosuchdevice0000"})
	assert.Error(t, err)
}
