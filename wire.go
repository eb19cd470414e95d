package causez

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidMetadata is returned by ParseMetadata for bytes that are not a
// valid metadata encoding.
var ErrInvalidMetadata = errors.New("invalid causal metadata")

// Field numbers of the metadata message.
const (
	fieldTaskID      protowire.Number = 1
	fieldTenantClass protowire.Number = 2
	fieldParentID    protowire.Number = 3
	fieldOption      protowire.Number = 4

	fieldOptionType    protowire.Number = 1
	fieldOptionPayload protowire.Number = 2
)

// Bytes encodes m in protobuf wire format.
func (m Metadata) Bytes() []byte {
	b := make([]byte, 0, 16+9*len(m.parents))
	if m.hasTaskID {
		b = protowire.AppendTag(b, fieldTaskID, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(m.taskID))
	}
	if m.hasTenant {
		b = protowire.AppendTag(b, fieldTenantClass, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.tenantClass)))
	}
	for _, p := range m.parents {
		b = protowire.AppendTag(b, fieldParentID, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(p))
	}
	for _, o := range m.options {
		var inner []byte
		inner = protowire.AppendTag(inner, fieldOptionType, protowire.VarintType)
		inner = protowire.AppendVarint(inner, uint64(o.typ))
		inner = protowire.AppendTag(inner, fieldOptionPayload, protowire.BytesType)
		inner = protowire.AppendBytes(inner, o.payload)
		b = protowire.AppendTag(b, fieldOption, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

// ParseMetadata decodes bytes produced by Metadata.Bytes. Unknown fields are
// skipped. An empty input decodes to blank metadata.
func ParseMetadata(data []byte) (Metadata, error) {
	var b Builder
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTaskID && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return Metadata{}, fmt.Errorf("%w: task id: %v", ErrInvalidMetadata, protowire.ParseError(n))
			}
			b.TaskID(int64(v))
			data = data[n:]

		case num == fieldTenantClass && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Metadata{}, fmt.Errorf("%w: tenant class: %v", ErrInvalidMetadata, protowire.ParseError(n))
			}
			b.TenantClass(int32(v))
			data = data[n:]

		case num == fieldParentID && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return Metadata{}, fmt.Errorf("%w: parent id: %v", ErrInvalidMetadata, protowire.ParseError(n))
			}
			b.AddParent(int64(v))
			data = data[n:]

		case num == fieldParentID && typ == protowire.BytesType:
			// Packed repeated parents.
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 || len(packed)%8 != 0 {
				return Metadata{}, fmt.Errorf("%w: packed parent ids", ErrInvalidMetadata)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				b.AddParent(int64(v))
				packed = packed[m:]
			}
			data = data[n:]

		case num == fieldOption && typ == protowire.BytesType:
			inner, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Metadata{}, fmt.Errorf("%w: option: %v", ErrInvalidMetadata, protowire.ParseError(n))
			}
			typ, payload, err := parseOption(inner)
			if err != nil {
				return Metadata{}, err
			}
			b.SetOption(typ, payload)
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Metadata{}, fmt.Errorf("%w: field %d: %v", ErrInvalidMetadata, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return b.md, nil
}

func parseOption(data []byte) (OptionType, []byte, error) {
	var (
		typ     OptionType
		payload []byte
	)
	for len(data) > 0 {
		num, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: option tag: %v", ErrInvalidMetadata, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldOptionType && wt == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 || v > 0xff {
				return 0, nil, fmt.Errorf("%w: option type", ErrInvalidMetadata)
			}
			typ = OptionType(v)
			data = data[n:]
		case num == fieldOptionPayload && wt == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: option payload: %v", ErrInvalidMetadata, protowire.ParseError(n))
			}
			payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wt, data)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: option field %d: %v", ErrInvalidMetadata, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return typ, payload, nil
}
