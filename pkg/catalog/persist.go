// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// bitRecord and itemRecord are the persisted forms of BitField and Register.
// JSON names follow the vlItem.json layout consumed by the board tooling.
type bitRecord struct {
	Name     string   `json:"BitName" cbor:"1,keyasint"`
	Field    string   `json:"CI-Field" cbor:"2,keyasint"`
	Key      string   `json:"CI-Key" cbor:"3,keyasint"`
	StartBit int      `json:"StartBit" cbor:"4,keyasint"`
	Size     int      `json:"Size" cbor:"5,keyasint"`
	Value    *float64 `json:"Value" cbor:"6,keyasint"`
}

type itemRecord struct {
	Name         string      `json:"name" cbor:"1,keyasint"`
	Field        string      `json:"CIField" cbor:"2,keyasint"`
	Key          string      `json:"CIKey" cbor:"3,keyasint"`
	Address      []int       `json:"Address" cbor:"4,keyasint"`
	LenTyp       []int       `json:"LenTyp" cbor:"5,keyasint"`
	Flags        []int       `json:"Flags" cbor:"6,keyasint"`
	Symbol       []int       `json:"Symbol" cbor:"7,keyasint"`
	ScaleFactor  []int       `json:"ScaleFactor" cbor:"8,keyasint"`
	Unit         []int       `json:"Unit" cbor:"9,keyasint"`
	MinVal       []int       `json:"MinVal" cbor:"10,keyasint"`
	MaxVal       []int       `json:"MaxVal" cbor:"11,keyasint"`
	BitFields    []bitRecord `json:"BitItems" cbor:"12,keyasint"`
	DefaultValue []int       `json:"DefaultValue" cbor:"13,keyasint"`
	Value        *float64    `json:"Value" cbor:"14,keyasint"`
}

type document struct {
	Items []itemRecord `json:"ItemData" cbor:"1,keyasint"`
}

func ints(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func fill(dst []byte, src []int) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = byte(src[i])
	}
}

func toDocument(c *Catalog) document {
	doc := document{Items: make([]itemRecord, 0, c.Len())}
	for _, r := range c.regs {
		rec := itemRecord{
			Name:         r.Name,
			Field:        r.Field,
			Key:          r.Key,
			Address:      ints(r.Address[:]),
			LenTyp:       ints(r.LenTyp[:]),
			Flags:        ints(r.Flags[:]),
			Symbol:       ints(r.Symbol[:]),
			ScaleFactor:  ints(r.ScaleFactor[:]),
			Unit:         ints(r.Unit[:]),
			MinVal:       ints(r.MinVal[:]),
			MaxVal:       ints(r.MaxVal[:]),
			BitFields:    make([]bitRecord, 0, len(r.BitFields)),
			DefaultValue: ints(r.Default),
			Value:        r.Value.ptr(),
		}
		for _, b := range r.BitFields {
			rec.BitFields = append(rec.BitFields, bitRecord{
				Name:     b.Name,
				Field:    b.Field,
				Key:      b.Key,
				StartBit: b.StartBit,
				Size:     b.Size,
				Value:    b.Value.ptr(),
			})
		}
		doc.Items = append(doc.Items, rec)
	}
	return doc
}

func fromDocument(doc document) (*Catalog, error) {
	regs := make([]Register, 0, len(doc.Items))
	for _, rec := range doc.Items {
		r := Register{
			Name:  rec.Name,
			Field: rec.Field,
			Key:   rec.Key,
			Value: valueOf(rec.Value),
		}
		fill(r.Address[:], rec.Address)
		fill(r.LenTyp[:], rec.LenTyp)
		fill(r.Flags[:], rec.Flags)
		fill(r.Symbol[:], rec.Symbol)
		fill(r.ScaleFactor[:], rec.ScaleFactor)
		fill(r.Unit[:], rec.Unit)
		fill(r.MinVal[:], rec.MinVal)
		fill(r.MaxVal[:], rec.MaxVal)
		if len(rec.DefaultValue) > 0 {
			r.Default = make([]byte, len(rec.DefaultValue))
			fill(r.Default, rec.DefaultValue)
		}
		for _, b := range rec.BitFields {
			r.BitFields = append(r.BitFields, BitField{
				Name:     b.Name,
				Field:    b.Field,
				Key:      b.Key,
				StartBit: b.StartBit,
				Size:     b.Size,
				Value:    valueOf(b.Value),
			})
		}
		regs = append(regs, r)
	}
	return New(regs)
}

// EncodeJSON writes the catalog as an indented {"ItemData": [...]} document.
func EncodeJSON(w io.Writer, c *Catalog) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(toDocument(c))
}

// DecodeJSON reads a catalog written by EncodeJSON.
func DecodeJSON(r io.Reader) (*Catalog, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode json: %w", err)
	}
	return fromDocument(doc)
}

// MarshalCBOR returns a compact CBOR snapshot of the catalog.
func MarshalCBOR(c *Catalog) ([]byte, error) {
	return cbor.Marshal(toDocument(c))
}

// UnmarshalCBOR decodes a snapshot produced by MarshalCBOR.
func UnmarshalCBOR(data []byte) (*Catalog, error) {
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode cbor: %w", err)
	}
	return fromDocument(doc)
}

// Save writes the catalog to path, choosing CBOR for .cbor files and JSON
// otherwise. The file is replaced atomically.
func Save(path string, c *Catalog) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("catalog: save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if isCBOR(path) {
		var data []byte
		data, err = MarshalCBOR(c)
		if err == nil {
			_, err = tmp.Write(data)
		}
	} else {
		err = EncodeJSON(tmp, c)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("catalog: save %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a catalog saved by Save.
func Load(path string) (*Catalog, error) {
	if isCBOR(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return UnmarshalCBOR(data)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeJSON(f)
}

func isCBOR(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".cbor")
}
