package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_validateSettings(t *testing.T) {
	type args struct {
		s *Settings
	}
	testcases := []struct {
		name string
		args args
		want *Settings
	}{
		{
			name: "invalid values are replaced by defaults",
			args: args{
				s: &Settings{
					PollingInterval:  -1 * time.Second,
					MaxItemsPerCycle: -2,
				},
			},
			want: &Settings{
				PollingInterval:  defaultPollingInterval,
				MaxItemsPerCycle: defaultMaxItemsPerCycle,
			},
		},
		{
			name: "zero values are replaced by defaults",
			args: args{
				s: &Settings{},
			},
			want: &Settings{
				PollingInterval:  defaultPollingInterval,
				MaxItemsPerCycle: defaultMaxItemsPerCycle,
			},
		},
		{
			name: "valid values are kept",
			args: args{
				s: &Settings{
					PollingInterval:  time.Second,
					MaxItemsPerCycle: 7,
				},
			},
			want: &Settings{
				PollingInterval:  time.Second,
				MaxItemsPerCycle: 7,
			},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			validateSettings(tc.args.s)
			assert.Equal(t, tc.want, tc.args.s)
		})
	}
}
