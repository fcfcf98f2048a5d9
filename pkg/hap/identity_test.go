package hap

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID_Stable(t *testing.T) {
	a := GenerateUUID("homebridge-dummy.DummySwitch:Kitchen")
	b := GenerateUUID("homebridge-dummy.DummySwitch:Kitchen")
	c := GenerateUUID("homebridge-dummy.DummySwitch:Hall")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestGenerateMAC(t *testing.T) {
	mac := GenerateMAC("0E3A2F10-0000-4000-8000-000000000001")
	assert.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`), mac)
	assert.Equal(t, mac, GenerateMAC("0E3A2F10-0000-4000-8000-000000000001"))
	assert.NotEqual(t, mac, GenerateMAC("0E3A2F10-0000-4000-8000-000000000002"))
	// SHA-1("abc") = a9993e36 4706...
	assert.Equal(t, "A9:99:3E:36:47:06", GenerateMAC("abc"))
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("CC:22:3D:E3:CE:30"))
	assert.True(t, ValidUsername("cc:22:3d:e3:ce:30"))
	assert.False(t, ValidUsername("CC:22:3D:E3:CE"))
	assert.False(t, ValidUsername("CC-22-3D-E3-CE-30"))
}

func TestValidPinCode(t *testing.T) {
	tests := []struct {
		pin  string
		want bool
	}{
		{"031-45-154", true},
		{"123-45-678", false},
		{"111-11-111", false},
		{"03145154", false},
		{"031-45-15a", false},
	}
	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidPinCode(tt.pin))
		})
	}
}

func TestGenerateSetupID(t *testing.T) {
	id := GenerateSetupID("CC:22:3D:E3:CE:30")
	assert.True(t, ValidSetupID(id))
	assert.Equal(t, id, GenerateSetupID("cc:22:3d:e3:ce:30"))
	assert.False(t, ValidSetupID("ab12"))
}

func TestSetupURI(t *testing.T) {
	uri, err := SetupURI("031-45-154", CategoryBridge, "ABCD")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^X-HM://[0-9A-Z]{9}ABCD$`), uri)

	other, err := SetupURI("031-45-155", CategoryBridge, "ABCD")
	require.NoError(t, err)
	assert.NotEqual(t, uri, other)

	_, err = SetupURI("bad", CategoryBridge, "ABCD")
	assert.ErrorIs(t, err, ErrInvalidPinCode)
}

func TestSetupHash(t *testing.T) {
	h := SetupHash("ABCD", "CC:22:3D:E3:CE:30")
	assert.Len(t, h, 8)
	assert.Equal(t, h, SetupHash("ABCD", "cc:22:3d:e3:ce:30"))
	assert.NotEqual(t, h, SetupHash("ABCE", "CC:22:3D:E3:CE:30"))
}
