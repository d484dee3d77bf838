package shm

import (
	"wordpipe/utils"
)

// U32 returns the shared uint32 at off within the mapping.
func (m *Mapping) U32(off int) *uint32 { return utils.U32At(m.Mem, off) }

// I32 returns the shared int32 at off within the mapping.
func (m *Mapping) I32(off int) *int32 { return utils.I32At(m.Mem, off) }

// U64 returns the shared uint64 at off within the mapping.
func (m *Mapping) U64(off int) *uint64 { return utils.U64At(m.Mem, off) }
