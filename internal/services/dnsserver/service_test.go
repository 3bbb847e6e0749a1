package dnsserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudcutter/internal/events"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{ListenAddr: "127.0.0.1:0"}, events.NewBus())
	return s
}

func TestResolveStaticRecordFirstMatchWins(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.AddRecord(Record{
		HostPattern: `^h\d\.iot-dns\.com\.$`,
		TypePattern: `^A$`,
		Answers:     []string{"10.42.42.1"},
	}))
	require.NoError(t, s.AddRecord(Record{
		HostPattern: `.*`,
		TypePattern: `.*`,
		Answers:     []string{"9.9.9.9"},
	}))

	got := s.resolve("h1.iot-dns.com.", "A")
	assert.Equal(t, []string{"10.42.42.1"}, got)
}

func TestResolveFallsThroughToCatchAll(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.AddRecord(Record{
		HostPattern: `^never\.match\.$`,
		TypePattern: `.*`,
		Answers:     []string{"1.2.3.4"},
	}))
	require.NoError(t, s.AddRecord(Record{
		HostPattern: `.*`,
		TypePattern: `.*`,
		Answers:     []string{"9.9.9.9"},
	}))

	got := s.resolve("example.com.", "A")
	assert.Equal(t, []string{"9.9.9.9"}, got)
}

func TestResolveHandlerCanDecline(t *testing.T) {
	s := newTestService(t)
	calls := 0
	require.NoError(t, s.AddRecord(Record{
		HostPattern: `.*`,
		TypePattern: `.*`,
		Handler: func(qname, qtype string) []string {
			calls++
			return nil
		},
	}))
	require.NoError(t, s.AddRecord(Record{
		HostPattern: `.*`,
		TypePattern: `.*`,
		Answers:     []string{"5.5.5.5"},
	}))

	got := s.resolve("anything.", "A")
	assert.Equal(t, []string{"5.5.5.5"}, got)
	assert.Equal(t, 1, calls)
}

func TestResolveNoMatchReturnsEmpty(t *testing.T) {
	s := newTestService(t)
	got := s.resolve("nowhere.example.", "A")
	assert.Empty(t, got)
}

func TestSkippedSuffixes(t *testing.T) {
	assert.True(t, skipped("printer.local."))
	assert.True(t, skipped("desktop.mshome.net."))
	assert.False(t, skipped("h1.iot-dns.com."))
}
