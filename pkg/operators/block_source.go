package operators

import (
	"github.com/sandboxws/isotope/mpp/pkg/block"
	"github.com/sandboxws/isotope/mpp/pkg/operator"
)

// BlockSource is a leaf operator that emits a fixed list of blocks, one per
// Next call. It stands in for a storage reader.
type BlockSource struct {
	operator.Base
	blocks []*block.Block
}

// NewBlockSource creates a BlockSource that takes ownership of blocks.
func NewBlockSource(ctx *operator.Context, blocks ...*block.Block) *BlockSource {
	s := &BlockSource{Base: operator.NewBase(ctx), blocks: blocks}
	if len(blocks) == 0 {
		s.Finish()
	}
	return s
}

func (s *BlockSource) Next() (*block.Block, error) {
	if err := s.CheckNotFinished(); err != nil {
		return nil, err
	}
	b := s.blocks[0]
	s.blocks[0] = nil
	s.blocks = s.blocks[1:]
	if len(s.blocks) == 0 {
		s.Finish()
	}
	s.Context().RecordOutput(b)
	return b, nil
}

// Close releases blocks that were never emitted.
func (s *BlockSource) Close() error {
	for _, b := range s.blocks {
		b.Release()
	}
	s.blocks = nil
	return nil
}
