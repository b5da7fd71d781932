package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLease(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		want    time.Duration
		raw     uint32
		present bool
	}{{
		name:    "absent_defaults",
		want:    DefaultLease,
		raw:     0,
		present: false,
	}, {
		name:    "ordinary",
		want:    3600 * time.Second,
		raw:     3600,
		present: true,
	}, {
		name:    "below_minimum_rounded_up",
		want:    MinLease,
		raw:     10,
		present: true,
	}, {
		name:    "high_bit_masked",
		want:    time.Duration(0x7fffffff) * time.Second,
		raw:     0xffffffff,
		present: true,
	}, {
		name:    "only_high_bit_rounds_up",
		want:    MinLease,
		raw:     0x80000000,
		present: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, normalizeLease(tc.raw, tc.present))
		})
	}
}

func TestRenewTimes(t *testing.T) {
	t.Parallel()

	t1, t2 := renewTimes(3600 * time.Second)
	assert.Equal(t, 1800*time.Second, t1)
	assert.Equal(t, 3150*time.Second, t2)

	t1, t2 = renewTimes(120 * time.Second)
	assert.Equal(t, 60*time.Second, t1)
	assert.Equal(t, 105*time.Second, t2)
}

func TestRenewingRetryDelay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, renewingRetryDelay(60*time.Second, 0))
	assert.Equal(t, 20*time.Second, renewingRetryDelay(60*time.Second, 20*time.Second))
	assert.Equal(t, time.Duration(0), renewingRetryDelay(10*time.Second, 20*time.Second))
}
