// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package ump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPacketFieldsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		group := byte(rapid.IntRange(0, 15).Draw(t, "group"))
		status := Status(rapid.IntRange(0, 3).Draw(t, "status"))
		n := rapid.IntRange(0, 6).Draw(t, "n")
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(rapid.IntRange(0, 255).Draw(t, "b"))
		}

		p := NewPacket(group, status, data)
		assert.Equal(t, byte(mt64), p.MessageType())
		assert.Equal(t, group, p.Group())
		assert.Equal(t, status, p.SysEx7Status())
		assert.Equal(t, n, p.NumBytes())
		assert.Equal(t, data, p.Bytes())
	})
}

func TestFromMIDI1SysExSevenByteSplit(t *testing.T) {
	sysex := []byte{0xF0, 1, 2, 3, 4, 5, 6, 7, 0xF7}
	packets := FromMIDI1SysEx(sysex, 0)
	require.Len(t, packets, 2)
	assert.Equal(t, StatusStart, packets[0].SysEx7Status())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, packets[0].Bytes())
	assert.Equal(t, StatusEnd, packets[1].SysEx7Status())
	assert.Equal(t, []byte{7}, packets[1].Bytes())
}

func TestFromMIDI1SysExFitsInOnePacket(t *testing.T) {
	sysex := []byte{0xF0, 1, 2, 3, 0xF7}
	packets := FromMIDI1SysEx(sysex, 3)
	require.Len(t, packets, 1)
	assert.Equal(t, StatusComplete, packets[0].SysEx7Status())
	assert.Equal(t, []byte{1, 2, 3}, packets[0].Bytes())
	assert.Equal(t, byte(3), packets[0].Group())
}

func TestFromMIDI1SysExMultiContinue(t *testing.T) {
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	sysex := append([]byte{0xF0}, append(append([]byte(nil), payload...), 0xF7)...)
	packets := FromMIDI1SysEx(sysex, 0)
	// 20 bytes: Start(6) + Continue(6) + Continue(6) + End(2)
	require.Len(t, packets, 4)
	assert.Equal(t, StatusStart, packets[0].SysEx7Status())
	assert.Equal(t, StatusContinue, packets[1].SysEx7Status())
	assert.Equal(t, StatusContinue, packets[2].SysEx7Status())
	assert.Equal(t, StatusEnd, packets[3].SysEx7Status())
	assert.Equal(t, []byte{19, 20}, packets[3].Bytes())
}

func TestAssemblerRoundTripsArbitraryPayload(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(t, "n")
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(rapid.IntRange(0, 255).Draw(t, "b"))
		}
		sysex := append([]byte{0xF0}, append(append([]byte(nil), payload...), 0xF7)...)
		group := byte(rapid.IntRange(0, 15).Draw(t, "group"))
		packets := FromMIDI1SysEx(sysex, group)

		a := NewAssembler(0)
		var got []byte
		for _, p := range packets {
			if out := a.Process(p.Group(), p.SysEx7Status(), p.Bytes()); out != nil {
				got = out
			}
		}
		assert.Equal(t, sysex, got)
	})
}

func TestAssemblerKeepsGroupsIndependent(t *testing.T) {
	a := NewAssembler(0)
	assert.Nil(t, a.Process(0, StatusStart, []byte{1, 2, 3}))
	assert.Nil(t, a.Process(1, StatusStart, []byte{9, 9, 9}))
	out0 := a.Process(0, StatusEnd, []byte{4})
	assert.Equal(t, []byte{0xF0, 1, 2, 3, 4, 0xF7}, out0)
	out1 := a.Process(1, StatusEnd, []byte{8})
	assert.Equal(t, []byte{0xF0, 9, 9, 9, 8, 0xF7}, out1)
}

func TestAssemblerContinueWithoutStartYieldsNothing(t *testing.T) {
	a := NewAssembler(0)
	assert.Nil(t, a.Process(0, StatusContinue, []byte{1}))
	assert.Nil(t, a.Process(0, StatusEnd, []byte{2}))
}

func TestAssemblerOverflowDiscardsGroup(t *testing.T) {
	a := NewAssembler(4)
	assert.Nil(t, a.Process(0, StatusStart, []byte{1, 2, 3, 4, 5, 6}))
	assert.Nil(t, a.Process(0, StatusContinue, []byte{1, 2, 3, 4, 5, 6}))
	out := a.Process(0, StatusEnd, []byte{1})
	assert.Nil(t, out)
}

func TestAssemblerReset(t *testing.T) {
	a := NewAssembler(0)
	a.Process(0, StatusStart, []byte{1})
	a.Reset()
	assert.Nil(t, a.Process(0, StatusEnd, []byte{2}))
}
