package upnp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSSDPResponse = "HTTP/1.1 200 OK\r\n" +
	"CACHE-CONTROL: max-age=1800\r\n" +
	"LOCATION: http://10.0.0.1:80/desc.xml\r\n" +
	"SERVER: Test/1.0 UPnP/1.0\r\n" +
	"ST: upnp:rootdevice\r\n" +
	"USN: uuid:A::upnp:rootdevice\r\n" +
	"EXT:\r\n" +
	"\r\n"

func TestParseSSDPResponse(t *testing.T) {
	resp, err := parseSSDPResponse([]byte(sampleSSDPResponse))
	require.NoError(t, err)

	require.NotNil(t, resp.Location)
	assert.Equal(t, "http://10.0.0.1:80/desc.xml", resp.Location.String())
	assert.Equal(t, "uuid:A::upnp:rootdevice", resp.USN)
	assert.Equal(t, "upnp:rootdevice", resp.ST)
	assert.Equal(t, 1800*time.Second, resp.MaxAge)
}

func TestParseSSDPResponse_RejectsNon200(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\n\r\n"
	_, err := parseSSDPResponse([]byte(raw))
	assert.Error(t, err)
}
