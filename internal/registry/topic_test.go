package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: "wb-mr6c_1/K1"},
		{in: "wb-mr6c_1/K1#error"},
		{in: "wb-mr6c_1", wantErr: true},
		{in: "/K1", wantErr: true},
		{in: "dev/", wantErr: true},
		{in: "a/b/c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTopicParts(t *testing.T) {
	topic := NewTopic("wb-gpio", "EXT1_IN2")

	assert.Equal(t, "wb-gpio", topic.Device())
	assert.Equal(t, "EXT1_IN2", topic.Control())
	assert.False(t, topic.IsError())

	errTopic := topic.Error()
	assert.Equal(t, Topic("wb-gpio/EXT1_IN2#error"), errTopic)
	assert.True(t, errTopic.IsError())
	assert.Equal(t, "EXT1_IN2", errTopic.Control())
	assert.Equal(t, topic, errTopic.Base())
	assert.Equal(t, errTopic, errTopic.Error())
}

func TestValueTruthy(t *testing.T) {
	assert.True(t, Bool(true).Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Number(40).Truthy())
	assert.False(t, Number(0).Truthy())
	assert.True(t, Text("r").Truthy())
	assert.False(t, Text("").Truthy())
	assert.False(t, Text("0").Truthy())
}

func TestValueFloat(t *testing.T) {
	assert.Equal(t, 1.0, Bool(true).Float())
	assert.Equal(t, 12.5, Number(12.5).Float())
	assert.Equal(t, 3.0, Text("3").Float())
	assert.Equal(t, 0.0, Text("x").Float())
}

func TestControlTypeValueKind(t *testing.T) {
	assert.Equal(t, KindBool, TypeSwitch.ValueKind())
	assert.Equal(t, KindBool, TypePushbutton.ValueKind())
	assert.Equal(t, KindNumber, TypeRange.ValueKind())
	assert.Equal(t, KindNumber, TypeValue.ValueKind())
	assert.Equal(t, KindText, TypeText.ValueKind())
}
