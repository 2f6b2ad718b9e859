// Package fingerprint derives a stable device identity (HWID) from a
// client hardware descriptor.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// UnknownSerial stands in for identifiers the client could not read, so
// that a missing value still contributes a fixed digest to the HWID.
const UnknownSerial = "0000-0000-0000-0000"

const delimiter = "|"

// Compute returns the hex SHA-256 HWID of d. Every leaf identifier is
// digested on its own and the digests are joined in a fixed order before
// the final digest. Disks are ordered by device id and GPU digests are
// sorted, so enumeration order on the client never changes the result.
func Compute(d Descriptor) string {
	parts := make([]string, 0, 6+len(d.GPUs)+len(d.Disks))

	parts = append(parts,
		digest(cpuIdentifier(d.CPU)),
		digest(motherboardField(d.Motherboard, func(m *Motherboard) *string { return m.Serial })),
		digest(motherboardField(d.Motherboard, func(m *Motherboard) *string { return m.SKU })),
		digest(biosUUID(d.BIOS)),
	)

	gpus := make([]string, 0, len(d.GPUs))
	for _, g := range d.GPUs {
		gpus = append(gpus, digest(gpuIdentifier(g)))
	}
	sort.Strings(gpus)
	parts = append(parts, gpus...)

	disks := make([]Disk, len(d.Disks))
	copy(disks, d.Disks)
	sort.SliceStable(disks, func(i, j int) bool {
		if disks[i].DeviceID != disks[j].DeviceID {
			return disks[i].DeviceID < disks[j].DeviceID
		}
		return disks[i].Serial < disks[j].Serial
	})
	for _, disk := range disks {
		parts = append(parts, digest(disk.Serial))
	}

	parts = append(parts, digest(d.GUID))

	return digest(strings.Join(parts, delimiter))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func cpuIdentifier(c *CPU) string {
	if c == nil {
		return UnknownSerial
	}
	if c.ID != nil {
		return *c.ID
	}
	if c.Name != nil {
		return *c.Name
	}
	return UnknownSerial
}

func motherboardField(m *Motherboard, field func(*Motherboard) *string) string {
	if m == nil {
		return UnknownSerial
	}
	if v := field(m); v != nil {
		return *v
	}
	return UnknownSerial
}

func biosUUID(b *BIOS) string {
	if b == nil {
		return UnknownSerial
	}
	return b.UUID
}

// gpuIdentifier prefers the adapter UUID and falls back to the last
// segment of the PnP device path (the instance id).
func gpuIdentifier(g GPU) string {
	if g.UUID != nil {
		return *g.UUID
	}
	return g.DeviceID[strings.LastIndex(g.DeviceID, `\`)+1:]
}
