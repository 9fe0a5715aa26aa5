package validation

import (
	"testing"

	"roomgraph/internal/common/errors"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Room      string `json:"room" validate:"required,room_name"`
	Schedule  string `json:"schedule" validate:"omitempty,cron_spec"`
	Transport string `json:"transport" validate:"transport_type"`
	Buffer    int    `json:"buffer" validate:"min=1"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		input   sample
		wantErr string
	}{
		{
			name:  "valid",
			input: sample{Room: "feeds.sources", Schedule: "@every 1h", Transport: "redis", Buffer: 10},
		},
		{
			name:    "room with whitespace",
			input:   sample{Room: "bad room", Transport: "memory", Buffer: 1},
			wantErr: "field 'room' must be a room name without whitespace",
		},
		{
			name:    "bad cron",
			input:   sample{Room: "r", Schedule: "every tuesday", Transport: "nats", Buffer: 1},
			wantErr: "field 'schedule' must be a valid cron schedule",
		},
		{
			name:    "multiple",
			input:   sample{Transport: "carrier-pigeon"},
			wantErr: "validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidRoomName(t *testing.T) {
	assert.True(t, ValidRoomName("abuse.customer.acme"))
	assert.False(t, ValidRoomName(""))
	assert.False(t, ValidRoomName("a\tb"))
}
