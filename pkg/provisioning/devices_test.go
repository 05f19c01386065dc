package provisioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoDevices = `<?xml version="1.0" encoding="UTF-8"?>
<devices>
  <device>
    <name>CSFalice</name>
    <description>Alice softphone</description>
    <model>Client Services Framework</model>
  </device>
  <device>
    <name>SEP001122334455</name>
    <description>Alice desk</description>
    <model>Cisco 7965</model>
  </device>
</devices>`

func TestParseDeviceList(t *testing.T) {
	devices, err := ParseDeviceList([]byte(twoDevices))
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, DeviceInfo{
		Name:        "CSFalice",
		Description: "Alice softphone",
		Model:       "Client Services Framework",
	}, devices["CSFalice"])
	assert.Equal(t, "Cisco 7965", devices["SEP001122334455"].Model)
}

func TestParseDeviceListFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code DeviceListErrorCode
	}{
		{"пустой ответ", "", DeviceListEmptyResponse},
		{"только пробелы", " \n\t ", DeviceListEmptyResponse},
		{"не XML", "garbage", DeviceListParseFailed},
		{"чужой корень", "<phones><phone/></phones>", DeviceListParseFailed},
		{"нет устройств", "<devices></devices>", DeviceListParseFailed},
		{"нет model", "<devices><device><name>a</name><description>b</description></device></devices>", DeviceListParseFailed},
		{
			"HTML 401",
			"<html><head><title>Apache Tomcat - Error report</title></head><body><h1>HTTP Status 401 - Unauthorized</h1></body></html>",
			DeviceListAuthFailed,
		},
		{
			"HTML без 401",
			"<html><body><h1>HTTP Status 500 - Internal error</h1></body></html>",
			DeviceListParseFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeviceList([]byte(tt.body))
			require.Error(t, err)
			code, ok := DeviceListCode(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestDeviceListErrorIs(t *testing.T) {
	_, err := ParseDeviceList(nil)
	assert.ErrorIs(t, err, ErrDeviceListEmpty)
	assert.NotErrorIs(t, err, ErrDeviceListParseFailed)
}
