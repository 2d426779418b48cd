// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidAppliesDefaults(t *testing.T) {
	c := Config{}
	require.NoError(t, c.Valid())
	assert.Equal(t, 2, c.MaxInflightPerDevice)
	assert.Equal(t, 5*time.Second, c.DefaultRequestTimeout)
	assert.Equal(t, 2*time.Second, c.RequestIDCooldown)
	assert.Equal(t, 500*time.Millisecond, c.ReplyAssemblyTimeout)
	assert.Equal(t, 5*time.Second, c.NotifyAssemblyTimeout)
	assert.Equal(t, 3, c.BLETimeoutMultiplier)
}

func TestConfigRequestIDCooldownDisableSentinel(t *testing.T) {
	c := Config{RequestIDCooldown: -1}
	require.NoError(t, c.Valid())
	assert.Equal(t, time.Duration(0), c.RequestIDCooldown)
}

func TestConfigRequestIDCooldownOutOfRange(t *testing.T) {
	c := Config{RequestIDCooldown: -2 * time.Second}
	assert.Error(t, c.Valid())

	c2 := Config{RequestIDCooldown: RequestIDCooldownMax + time.Second}
	assert.Error(t, c2.Valid())
}

func TestConfigMaxInflightPerDeviceOutOfRange(t *testing.T) {
	c := Config{MaxInflightPerDevice: MaxInflightPerDeviceMax + 1}
	assert.Error(t, c.Valid())
}

func TestConfigInvalidPointer(t *testing.T) {
	var c *Config
	assert.Error(t, c.Valid())
}

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	assert.NoError(t, c.Valid())
}
