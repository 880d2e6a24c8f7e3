package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranging-go/calibration"
)

func TestReadSamples(t *testing.T) {
	in := "raw,filtered,batteryMv\n-61, -60.5, 3700\n-59,-60.1\n"
	got, err := readSamples(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []calibration.Sample{
		{RawRssi: -61, FilteredRssi: -60.5, BatteryMv: 3700},
		{RawRssi: -59, FilteredRssi: -60.1},
	}, got)
}

func TestReadSamples_Errors(t *testing.T) {
	_, err := readSamples(strings.NewReader("-60,-60\n-61\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = readSamples(strings.NewReader("-60,-60\nx,-60\n"))
	assert.ErrorContains(t, err, "line 2")
}
