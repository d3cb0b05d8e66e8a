// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linux

import (
	"gvisor.dev/wmap/pkg/hostarch"
	"gvisor.dev/wmap/pkg/marshal"
)

// Marshallable types used by this file.
var _ marshal.Marshallable = (*PgdirInfo)(nil)
var _ marshal.Marshallable = (*WmapInfo)(nil)

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (w *WmapInfo) SizeBytes() int {
	return 4 + 4*MAX_WMMAP_INFO + 4*MAX_WMMAP_INFO + 4*MAX_WMMAP_INFO
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (w *WmapInfo) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(w.TotalMmaps))
	dst = dst[4:]
	for idx := 0; idx < MAX_WMMAP_INFO; idx++ {
		hostarch.ByteOrder.PutUint32(dst[:4], uint32(w.Addr[idx]))
		dst = dst[4:]
	}
	for idx := 0; idx < MAX_WMMAP_INFO; idx++ {
		hostarch.ByteOrder.PutUint32(dst[:4], uint32(w.Length[idx]))
		dst = dst[4:]
	}
	for idx := 0; idx < MAX_WMMAP_INFO; idx++ {
		hostarch.ByteOrder.PutUint32(dst[:4], uint32(w.NLoadedPages[idx]))
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (w *WmapInfo) UnmarshalBytes(src []byte) []byte {
	w.TotalMmaps = int32(hostarch.ByteOrder.Uint32(src[:4]))
	src = src[4:]
	for idx := 0; idx < MAX_WMMAP_INFO; idx++ {
		w.Addr[idx] = int32(hostarch.ByteOrder.Uint32(src[:4]))
		src = src[4:]
	}
	for idx := 0; idx < MAX_WMMAP_INFO; idx++ {
		w.Length[idx] = int32(hostarch.ByteOrder.Uint32(src[:4]))
		src = src[4:]
	}
	for idx := 0; idx < MAX_WMMAP_INFO; idx++ {
		w.NLoadedPages[idx] = int32(hostarch.ByteOrder.Uint32(src[:4]))
		src = src[4:]
	}
	return src
}

// CopyOut implements marshal.Marshallable.CopyOut.
func (w *WmapInfo) CopyOut(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := make([]byte, w.SizeBytes())
	w.MarshalBytes(buf)
	return cc.CopyOutBytes(addr, buf)
}

// CopyIn implements marshal.Marshallable.CopyIn.
func (w *WmapInfo) CopyIn(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := make([]byte, w.SizeBytes())
	length, err := cc.CopyInBytes(addr, buf)
	// Unmarshal unconditionally. If we had a short copy-in, this results
	// in a partially unmarshalled struct.
	w.UnmarshalBytes(buf)
	return length, err
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (p *PgdirInfo) SizeBytes() int {
	return 4 + 4*MAX_UPAGE_INFO + 4*MAX_UPAGE_INFO
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (p *PgdirInfo) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], p.NUpages)
	dst = dst[4:]
	for idx := 0; idx < MAX_UPAGE_INFO; idx++ {
		hostarch.ByteOrder.PutUint32(dst[:4], p.VA[idx])
		dst = dst[4:]
	}
	for idx := 0; idx < MAX_UPAGE_INFO; idx++ {
		hostarch.ByteOrder.PutUint32(dst[:4], p.PA[idx])
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (p *PgdirInfo) UnmarshalBytes(src []byte) []byte {
	p.NUpages = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	for idx := 0; idx < MAX_UPAGE_INFO; idx++ {
		p.VA[idx] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	for idx := 0; idx < MAX_UPAGE_INFO; idx++ {
		p.PA[idx] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	return src
}

// CopyOut implements marshal.Marshallable.CopyOut.
func (p *PgdirInfo) CopyOut(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := make([]byte, p.SizeBytes())
	p.MarshalBytes(buf)
	return cc.CopyOutBytes(addr, buf)
}

// CopyIn implements marshal.Marshallable.CopyIn.
func (p *PgdirInfo) CopyIn(cc marshal.CopyContext, addr hostarch.Addr) (int, error) {
	buf := make([]byte, p.SizeBytes())
	length, err := cc.CopyInBytes(addr, buf)
	// Unmarshal unconditionally. If we had a short copy-in, this results
	// in a partially unmarshalled struct.
	p.UnmarshalBytes(buf)
	return length, err
}
