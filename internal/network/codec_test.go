package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemainingLengthRoundTrip(t *testing.T) {
	for _, length := range []int{0, 1, 127, 128, 16383, 16384, 2097151} {
		encoded, err := encodeRemainingLength(length)
		require.NoError(t, err)

		decoded, consumed, err := decodeRemainingLength(encoded)
		require.NoError(t, err)
		assert.Equal(t, length, decoded)
		assert.Equal(t, len(encoded), consumed)
		assert.LessOrEqual(t, len(encoded), 4)
	}
}

func TestConnectConnackRoundTrip(t *testing.T) {
	packet, err := encodeConnect("stick_gateway", 60)
	require.NoError(t, err)

	require.Equal(t, pktCONNECT, packet[0])
	assert.Equal(t, []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}, packet[2:8])
	assert.Equal(t, protocolLevel, packet[8])
	assert.Equal(t, byte(0x02), packet[9])

	connack := []byte{pktCONNACK, 0x02, 0x00, 0x00}
	present, code, err := decodeConnack(connack)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, connackAccepted, code)
}

func TestConnackRejectionCodes(t *testing.T) {
	connack := []byte{pktCONNACK, 0x02, 0x00, byte(connackNotAuthorized)}
	_, code, err := decodeConnack(connack)
	require.NoError(t, err)
	assert.Equal(t, connackNotAuthorized, code)
	assert.Equal(t, "not authorized", code.String())
}

func TestPublishRoundTripQoS0(t *testing.T) {
	topic := "iot/gateway/temperature/sensor_0"
	payload := []byte(`{"sensor_id":0,"type":"temperature","value":22.10,"timestamp":1000,"priority":1,"encrypted":false}`)

	encoded, err := encodePublish(topic, payload, qos0, 0)
	require.NoError(t, err)

	decoded, err := decodePublish(encoded)
	require.NoError(t, err)
	assert.Equal(t, qos0, decoded.QoS)
	assert.Equal(t, topic, decoded.Topic)
	assert.Equal(t, payload, decoded.Payload)
}

func TestPublishRoundTripQoS1CarriesPacketID(t *testing.T) {
	topic := "iot/gateway/motion/sensor_0"
	payload := []byte(`{"sensor_id":0,"type":"motion","value":1.00,"timestamp":2000,"priority":3,"encrypted":false}`)

	encoded, err := encodePublish(topic, payload, qos1, 42)
	require.NoError(t, err)

	decoded, err := decodePublish(encoded)
	require.NoError(t, err)
	assert.Equal(t, qos1, decoded.QoS)
	assert.Equal(t, uint16(42), decoded.PacketID)
	assert.Equal(t, payload, decoded.Payload)
}

func TestPubackRoundTrip(t *testing.T) {
	encoded := encodePuback(7)
	id, err := decodePuback(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), id)
}

func TestPingreqAndDisconnectAreFixedTwoBytes(t *testing.T) {
	assert.Equal(t, []byte{0xC0, 0x00}, encodePingreq())
	assert.Equal(t, []byte{0xE0, 0x00}, encodeDisconnect())
	assert.True(t, decodePingresp([]byte{0xD0, 0x00}))
	assert.False(t, decodePingresp([]byte{0xD0, 0x01}))
}

func TestDecodeMalformedPacketsError(t *testing.T) {
	_, err := decodePublish([]byte{pktPUBLISH})
	assert.Error(t, err)

	_, _, err = decodeRemainingLength([]byte{0x80, 0x80, 0x80, 0x80})
	assert.Error(t, err)

	_, err = decodePuback([]byte{pktPUBACK, 0x02, 0x00})
	assert.Error(t, err)
}
