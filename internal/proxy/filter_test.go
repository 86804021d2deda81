package proxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsBlockedIPLoopback(t *testing.T) {
	require.True(t, isBlockedIP(net.ParseIP("127.0.0.1")))
	require.True(t, isBlockedIP(net.ParseIP("::1")))
}

func TestIsBlockedIPPrivateRanges(t *testing.T) {
	require.True(t, isBlockedIP(net.ParseIP("10.1.2.3")))
	require.True(t, isBlockedIP(net.ParseIP("172.16.0.1")))
	require.True(t, isBlockedIP(net.ParseIP("192.168.1.1")))
}

func TestIsBlockedIPCloudMetadata(t *testing.T) {
	require.True(t, isBlockedIP(net.ParseIP("169.254.169.254")))
}

func TestIsBlockedIPPublicAddressAllowed(t *testing.T) {
	require.False(t, isBlockedIP(net.ParseIP("8.8.8.8")))
}

func TestIsBlockedIPNilIsNotBlocked(t *testing.T) {
	require.False(t, isBlockedIP(nil))
}
