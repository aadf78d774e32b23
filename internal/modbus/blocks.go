package modbus

import "slices"

// Block is one contiguous read request.
type Block struct {
	Start uint16
	Count uint16
}

// PlanBlocks groups register addresses into the fewest contiguous blocks,
// none longer than MaxReadQuantity. Duplicates are read once.
func PlanBlocks(addrs []uint16) []Block {
	if len(addrs) == 0 {
		return nil
	}

	sorted := slices.Clone(addrs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	blocks := []Block{{Start: sorted[0], Count: 1}}
	for _, addr := range sorted[1:] {
		last := &blocks[len(blocks)-1]
		if uint32(addr) == uint32(last.Start)+uint32(last.Count) && last.Count < MaxReadQuantity {
			last.Count++
			continue
		}
		blocks = append(blocks, Block{Start: addr, Count: 1})
	}
	return blocks
}
