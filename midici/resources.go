// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package midici

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rob-gra/go-midici/pe"
)

// DeviceInfo mirrors the well-known DeviceInfo PE resource.
type DeviceInfo struct {
	ManufacturerID   string `json:"manufacturerId"`
	FamilyID         int    `json:"familyId"`
	ModelID          int    `json:"modelId"`
	VersionID        string `json:"versionId"`
	ManufacturerName string `json:"manufacturerName,omitempty"`
	FamilyName       string `json:"familyName,omitempty"`
	ModelName        string `json:"modelName,omitempty"`
}

// ResourceListEntry mirrors one entry of the ResourceList PE resource.
type ResourceListEntry struct {
	Resource     string `json:"resource"`
	CanGet       bool   `json:"canGet,omitempty"`
	CanSet       string `json:"canSet,omitempty"`
	CanSubscribe bool   `json:"canSubscribe,omitempty"`
	RequireResId bool   `json:"requireResId,omitempty"`
}

// ChannelListEntry mirrors one entry of the ChannelList PE resource.
type ChannelListEntry struct {
	Channel     int    `json:"channel"`
	Title       string `json:"title,omitempty"`
	ProgramList string `json:"programList,omitempty"`
}

// ProgramEntry mirrors one entry of the ProgramList PE resource, with
// lenient decoding of the vendor-observed bankPC array shape alongside
// the standard named-field shape (§4.8, §9 open question).
type ProgramEntry struct {
	Title   string `json:"title,omitempty"`
	Program int    `json:"program"`
	BankCC  int    `json:"bankCC"`
	BankMSB int    `json:"bankMSB"`
	BankLSB int    `json:"bankLSB"`
}

// programEntryWire lets UnmarshalJSON detect whether "program" was present
// at all, since encoding/json cannot distinguish "absent" from "zero" on
// a plain int field.
type programEntryWire struct {
	Title   string          `json:"title,omitempty"`
	BankPC  json.RawMessage `json:"bankPC,omitempty"`
	BankCC  *int            `json:"bankCC,omitempty"`
	Program *int            `json:"program,omitempty"`
}

func decodeProgramEntry(raw json.RawMessage) (ProgramEntry, error) {
	var w programEntryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ProgramEntry{}, err
	}

	var entry ProgramEntry
	entry.Title = w.Title
	if w.BankCC != nil {
		entry.BankCC = *w.BankCC
	}

	if len(w.BankPC) > 0 {
		var arr [3]int
		var scalar int
		switch {
		case json.Unmarshal(w.BankPC, &arr) == nil:
			entry.BankMSB, entry.BankLSB = arr[0], arr[1]
			if w.Program == nil {
				entry.Program = arr[2]
			}
		case json.Unmarshal(w.BankPC, &scalar) == nil:
			if w.Program == nil {
				entry.Program = scalar
			}
		}
	}
	if w.Program != nil {
		entry.Program = *w.Program
	}
	return entry, nil
}

// DeviceInfo issues a Get for the well-known DeviceInfo resource.
func (c *Client) DeviceInfo(ctx context.Context, h pe.DeviceHandle) (*DeviceInfo, error) {
	resp, err := c.pe.Get(ctx, h, "DeviceInfo", pe.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var info DeviceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("midici: decode DeviceInfo: %w", err)
	}
	return &info, nil
}

// ResourceList issues a Get for the well-known ResourceList resource.
func (c *Client) ResourceList(ctx context.Context, h pe.DeviceHandle) ([]ResourceListEntry, error) {
	resp, err := c.pe.Get(ctx, h, "ResourceList", pe.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var list []ResourceListEntry
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return nil, fmt.Errorf("midici: decode ResourceList: %w", err)
	}
	return list, nil
}

// ChannelList issues a Get for the well-known ChannelList resource.
func (c *Client) ChannelList(ctx context.Context, h pe.DeviceHandle) ([]ChannelListEntry, error) {
	resp, err := c.pe.Get(ctx, h, "ChannelList", pe.RequestOptions{})
	if err != nil {
		return nil, err
	}
	var list []ChannelListEntry
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return nil, fmt.Errorf("midici: decode ChannelList: %w", err)
	}
	return list, nil
}

// ProgramList issues a Get for the well-known ProgramList resource scoped
// to channel, decoding each entry leniently (§4.8, §9).
func (c *Client) ProgramList(ctx context.Context, h pe.DeviceHandle, channel int) ([]ProgramEntry, error) {
	ch := channel
	resp, err := c.pe.Get(ctx, h, "ProgramList", pe.RequestOptions{Channel: &ch})
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("midici: decode ProgramList: %w", err)
	}
	out := make([]ProgramEntry, 0, len(raw))
	for _, r := range raw {
		entry, err := decodeProgramEntry(r)
		if err != nil {
			return nil, fmt.Errorf("midici: decode ProgramList entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
