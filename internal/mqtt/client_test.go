package mqtt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBroker(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		tls  bool
	}{
		{raw: "broker.local", want: "tcp://broker.local:1883"},
		{raw: "tcp://broker.local:1884", want: "tcp://broker.local:1884"},
		{raw: "mqtts://broker.local", want: "ssl://broker.local:8883", tls: true},
		{raw: "ssl://broker.local:9999", want: "ssl://broker.local:9999", tls: true},
		{raw: "wss://broker.local/mqtt", want: "wss://broker.local/mqtt", tls: true},
	}
	for _, tc := range cases {
		got, useTLS, err := normalizeBroker(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
		assert.Equal(t, tc.tls, useTLS, tc.raw)
	}
}

func TestNormalizeBrokerRejects(t *testing.T) {
	for _, raw := range []string{"", "  ", "http://broker.local", "tcp://:1883"} {
		_, _, err := normalizeBroker(raw)
		assert.Error(t, err, raw)
	}
}

func TestClientIDIsUnique(t *testing.T) {
	a := ClientID("gohome-aircloud")
	b := ClientID("gohome-aircloud")
	assert.True(t, strings.HasPrefix(a, "gohome-aircloud-"))
	assert.Len(t, a, len("gohome-aircloud-")+12)
	assert.NotEqual(t, a, b)
}
