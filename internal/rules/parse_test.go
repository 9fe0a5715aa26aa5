package rules

import (
	"testing"

	"roomgraph/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetblock(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"10.0.0.0/8", "10.0.0.0/8", false},
		{"127.0.0.1/16", "127.0.0.0/16", false},
		{"192.168.1.1", "192.168.1.1/32", false},
		{"2001:db8::1", "2001:db8::1/128", false},
		{"2001:db8::1/32", "2001:db8::/32", false},
		{"999.0.0.1", "", true},
		{"10.0.0.0/40", "", true},
		{"10.0.0.0/x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParseNetblock(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestParseASNNetblock(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"3", "AND(OR(CONTAINS(asn=3)))"},
		{"003", "AND(OR(CONTAINS(asn=3)))"},
		{"3 +127.0.0.1/16", "AND(OR(CONTAINS(asn=3)),OR(NETBLOCK(127.0.0.0/16)))"},
		{"1 2 -4 -10.1.0.0/16", "AND(OR(CONTAINS(asn=1),CONTAINS(asn=2)),NOT(OR(CONTAINS(asn=4))),NOT(OR(NETBLOCK(10.1.0.0/16))))"},
		{"-3", "AND(NOT(OR(CONTAINS(asn=3))))"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r, err := ParseASNNetblock(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.String())
		})
	}
}

func TestParseASNNetblock_Errors(t *testing.T) {
	for _, input := range []string{"", "   ", "3 +bogus", "++3"} {
		_, err := ParseASNNetblock(input)
		assert.Error(t, err, input)
	}
}

func TestParseASNNetblock_Semantics(t *testing.T) {
	r, err := ParseASNNetblock("3 +127.0.0.1/16")
	require.NoError(t, err)

	assert.True(t, r.Match(events.New("asn", "3", "ip", "127.0.5.5")))
	assert.False(t, r.Match(events.New("asn", "3", "ip", "10.0.0.1")))
	assert.False(t, r.Match(events.New("asn", "4", "ip", "127.0.5.5")))

	excl, err := ParseASNNetblock("-4")
	require.NoError(t, err)
	assert.True(t, excl.Match(events.New("asn", "3")))
	assert.True(t, excl.Match(events.New()))
	assert.False(t, excl.Match(events.New("asn", "4")))
}

func TestParseASNNetblocks(t *testing.T) {
	r, err := ParseASNNetblocks([]string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, "OR(AND(OR(CONTAINS(asn=1))),AND(OR(CONTAINS(asn=2))))", r.String())

	_, err = ParseASNNetblocks(nil)
	assert.Error(t, err)
}
