package decoder

import (
	"bytes"
	"fmt"

	"github.com/ugparu/hwdec"
	"github.com/ugparu/hwdec/codec/h264"
	"github.com/ugparu/hwdec/utils/nal"
)

// scanResult describes the parameter sets found at the head of one buffer.
// sps and pps alias the scanned buffer and must be copied before they outlive the call.
type scanResult struct {
	sps, pps   []byte
	sliceStart int           // offset of the start code of the unit after the parameter sets
	typ        h264.NaluType // type of the unit at sliceStart
}

// parameterStore keeps the most recent SPS/PPS pair and the descriptor built from it.
type parameterStore struct {
	sps, pps  []byte
	desc      hwdec.FormatDescriptor
	spsWindow int
	ppsWindow int
}

func newParameterStore(spsWindow, ppsWindow int) *parameterStore {
	return &parameterStore{
		sps:       nil,
		pps:       nil,
		desc:      nil,
		spsWindow: spsWindow,
		ppsWindow: ppsWindow,
	}
}

// nested finds the start code that ends the parameter set whose own start code is at from
// and returns the boundary together with the type of the unit that follows it.
func nested(buf []byte, from, window int, name string) (boundary int, typ h264.NaluType, err error) {
	boundary, ok := nal.FindStartCode(buf, from+nal.StartCodeSize, window)
	if !ok {
		return 0, 0, &MalformedInputError{
			Reason: fmt.Sprintf("no start code after %s within %d bytes", name, window),
		}
	}
	if boundary+nal.StartCodeSize >= len(buf) {
		return 0, 0, &MalformedInputError{
			Reason: fmt.Sprintf("unit after %s at offset %d has no header", name, boundary),
		}
	}
	return boundary, h264.TypeOf(buf[boundary+nal.StartCodeSize]), nil
}

// scan walks SPS and PPS units at the head of buf, typ being the type of its leading unit.
// Nothing is stored: the caller commits the result once the whole buffer is accepted.
func (st *parameterStore) scan(buf []byte, typ h264.NaluType) (res scanResult, err error) {
	res.typ = typ

	if res.typ == h264.NaluSPS {
		var boundary int
		if boundary, res.typ, err = nested(buf, res.sliceStart, st.spsWindow, "SPS"); err != nil {
			return scanResult{}, err
		}
		res.sps = buf[res.sliceStart+nal.StartCodeSize : boundary]
		res.sliceStart = boundary
	}

	if res.typ == h264.NaluPPS {
		var boundary int
		ppsStart := res.sliceStart
		if boundary, res.typ, err = nested(buf, ppsStart, st.ppsWindow, "PPS"); err != nil {
			return scanResult{}, err
		}
		res.pps = buf[ppsStart+nal.StartCodeSize : boundary]
		res.sliceStart = boundary
	}

	return res, nil
}

func (st *parameterStore) setSPS(sps []byte) {
	st.sps = bytes.Clone(sps)
	st.pps = nil
	st.desc = nil
}

func (st *parameterStore) commit(sps, pps []byte, desc hwdec.FormatDescriptor) {
	st.sps = bytes.Clone(sps)
	st.pps = bytes.Clone(pps)
	st.desc = desc
}

// same reports whether sps and pps equal the pair the current descriptor was built from.
func (st *parameterStore) same(sps, pps []byte) bool {
	return st.desc != nil && bytes.Equal(st.sps, sps) && bytes.Equal(st.pps, pps)
}

func (st *parameterStore) reset() {
	st.sps = nil
	st.pps = nil
	st.desc = nil
}
