package storage

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/pathviewer/wsiview/pyramid"
)

// number of msgpack fields per instance: plane id, total width and height, tile width
// and height, and a flattened array of frame offsets.
const instanceFields = 6

// MarshalInstances appends the msgpack encoding of the instances to b.
func MarshalInstances(b []byte, instances []pyramid.Instance) []byte {
	o := msgp.Require(b, instancesMsgsize(instances))
	o = msgp.AppendArrayHeader(o, uint32(len(instances)))
	for _, inst := range instances {
		o = msgp.AppendArrayHeader(o, instanceFields)
		o = msgp.AppendString(o, inst.PlaneID)
		o = msgp.AppendInt(o, inst.TotalWidth)
		o = msgp.AppendInt(o, inst.TotalHeight)
		o = msgp.AppendInt(o, inst.TileWidth)
		o = msgp.AppendInt(o, inst.TileHeight)
		o = msgp.AppendArrayHeader(o, uint32(2*len(inst.Frames)))
		for _, frame := range inst.Frames {
			o = msgp.AppendInt(o, frame.ColumnOffset)
			o = msgp.AppendInt(o, frame.RowOffset)
		}
	}
	return o
}

// UnmarshalInstances decodes instances encoded by MarshalInstances and returns any
// remaining bytes.
func UnmarshalInstances(bts []byte) (instances []pyramid.Instance, o []byte, err error) {
	var n uint32
	if n, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
		return
	}
	instances = make([]pyramid.Instance, n)
	for i := range instances {
		inst := &instances[i]
		var sz uint32
		if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
			return
		}
		if sz != instanceFields {
			err = msgp.ArrayError{Wanted: instanceFields, Got: sz}
			return
		}
		if inst.PlaneID, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return
		}
		for _, dst := range []*int{&inst.TotalWidth, &inst.TotalHeight, &inst.TileWidth, &inst.TileHeight} {
			if *dst, bts, err = msgp.ReadIntBytes(bts); err != nil {
				return
			}
		}
		if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
			return
		}
		if sz%2 != 0 {
			err = msgp.ArrayError{Wanted: sz + 1, Got: sz}
			return
		}
		inst.Frames = make([]pyramid.Frame, sz/2)
		for j := range inst.Frames {
			if inst.Frames[j].ColumnOffset, bts, err = msgp.ReadIntBytes(bts); err != nil {
				return
			}
			if inst.Frames[j].RowOffset, bts, err = msgp.ReadIntBytes(bts); err != nil {
				return
			}
		}
	}
	o = bts
	return
}

func instancesMsgsize(instances []pyramid.Instance) (s int) {
	s = msgp.ArrayHeaderSize
	for _, inst := range instances {
		s += msgp.ArrayHeaderSize + msgp.StringPrefixSize + len(inst.PlaneID) + 4*msgp.IntSize
		s += msgp.ArrayHeaderSize + 2*len(inst.Frames)*msgp.IntSize
	}
	return
}
