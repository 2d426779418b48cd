// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package midici

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProgramEntryNamedFieldShape(t *testing.T) {
	raw := json.RawMessage(`{"title":"Grand Piano","program":1,"bankMSB":0,"bankLSB":0}`)
	entry, err := decodeProgramEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, "Grand Piano", entry.Title)
	assert.Equal(t, 1, entry.Program)
	assert.Equal(t, 0, entry.BankMSB)
	assert.Equal(t, 0, entry.BankLSB)
}

func TestDecodeProgramEntryStandardScalarShape(t *testing.T) {
	raw := json.RawMessage(`{"bankPC":1,"bankCC":2,"program":3}`)
	entry, err := decodeProgramEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Program)
	assert.Equal(t, 2, entry.BankCC)
	// scalar bankPC carries no MSB/LSB split
	assert.Equal(t, 0, entry.BankMSB)
	assert.Equal(t, 0, entry.BankLSB)
}

func TestDecodeProgramEntryVendorBankPCArrayShape(t *testing.T) {
	raw := json.RawMessage(`{"title":"Strings","bankPC":[1,2,3]}`)
	entry, err := decodeProgramEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, "Strings", entry.Title)
	assert.Equal(t, 1, entry.BankMSB)
	assert.Equal(t, 2, entry.BankLSB)
	assert.Equal(t, 3, entry.Program) // array's 3rd element used as program
}

func TestDecodeProgramEntryExplicitProgramWinsOverArray(t *testing.T) {
	raw := json.RawMessage(`{"title":"Organ","bankPC":[5,6,7],"program":42}`)
	entry, err := decodeProgramEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.BankMSB)
	assert.Equal(t, 6, entry.BankLSB)
	assert.Equal(t, 42, entry.Program) // explicit key always wins over array's 3rd element
}

func TestDecodeProgramEntryOutOfRangeValuesPassThrough(t *testing.T) {
	raw := json.RawMessage(`{"bankPC":[127,127,200]}`)
	entry, err := decodeProgramEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, 127, entry.BankMSB)
	assert.Equal(t, 127, entry.BankLSB)
	assert.Equal(t, 200, entry.Program)
}

func TestDecodeProgramEntryNoTitle(t *testing.T) {
	raw := json.RawMessage(`{"program":0,"bankMSB":0,"bankLSB":0}`)
	entry, err := decodeProgramEntry(raw)
	require.NoError(t, err)
	assert.Empty(t, entry.Title)
	assert.Zero(t, entry.Program)
}
