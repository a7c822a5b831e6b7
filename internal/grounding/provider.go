// Package grounding resolves the current catalog into a compiled persona
// instruction and the model handle bound to it.
package grounding

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/curator/internal/brain"
	"github.com/ent0n29/curator/internal/catalog"
	"github.com/ent0n29/curator/internal/persona"
)

// Grounding is everything a turn needs from the process-wide, read-only side.
type Grounding struct {
	Catalog     catalog.Catalog
	Condition   catalog.Condition
	Block       persona.ContextBlock
	Instruction string
	Handle      brain.Handle
}

// Provider memoizes the compiled block per catalog and delegates handle
// construction to the brain manager. Empty catalogs never build a handle.
type Provider struct {
	loader   *catalog.Loader
	brain    *brain.Manager
	persona  persona.Persona
	maxRunes int
	logger   *zap.Logger

	mu          sync.Mutex
	compiledFor string
	block       persona.ContextBlock
	instruction string
}

func NewProvider(loader *catalog.Loader, mgr *brain.Manager, p persona.Persona, maxInstructionRunes int, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		loader:   loader,
		brain:    mgr,
		persona:  p,
		maxRunes: maxInstructionRunes,
		logger:   logger.Named("grounding"),
	}
}

func (p *Provider) Persona() persona.Persona { return p.persona }

// Catalog returns the current catalog and load condition without touching the model.
func (p *Provider) Catalog(ctx context.Context) (catalog.Catalog, catalog.Condition) {
	return p.loader.Load(ctx)
}

// Resolve returns the current grounding. A non-nil error means the model
// handle could not be built; the returned Grounding still carries the catalog.
func (p *Provider) Resolve(ctx context.Context) (Grounding, error) {
	c, cond := p.loader.Load(ctx)
	block, instruction := p.compile(c)
	g := Grounding{Catalog: c, Condition: cond, Block: block, Instruction: instruction}
	if block.Empty() {
		return g, nil
	}

	h, err := p.brain.Session(ctx, instruction)
	if err != nil {
		return g, err
	}
	g.Handle = h
	return g, nil
}

// Discard forwards an unusable handle to the brain manager.
func (p *Provider) Discard(h brain.Handle, err error) bool {
	return p.brain.Discard(h, err)
}

func (p *Provider) compile(c catalog.Catalog) (persona.ContextBlock, string) {
	fp := c.Fingerprint()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.compiledFor == fp && p.compiledFor != "" {
		return p.block, p.instruction
	}

	block, omitted := persona.CompileBounded(c, p.persona.BlockBudget(p.maxRunes))
	if omitted > 0 {
		p.logger.Warn("instruction cap left records out of grounding",
			zap.Int("max_instruction_runes", p.maxRunes),
			zap.Int("records", c.Len()),
			zap.Int("omitted", omitted),
		)
	}
	instruction := ""
	if !block.Empty() {
		instruction = p.persona.Instruction(block)
	}
	p.compiledFor = fp
	p.block = block
	p.instruction = instruction
	p.logger.Info("grounding compiled",
		zap.Int("records", c.Len()),
		zap.Int("block_bytes", len(block)),
	)
	return block, instruction
}

// Reload drops the cached catalog and loads it again from the source.
func (p *Provider) Reload(ctx context.Context) (catalog.Catalog, catalog.Condition) {
	p.loader.Invalidate()
	return p.loader.Load(ctx)
}
