package persona

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/curator/internal/catalog"
)

func sampleCatalog() catalog.Catalog {
	return catalog.New([]catalog.BookRecord{
		{Title: "Dế Mèn", Author: "Tô Hoài", Category: "Fiction", Summary: "Phiêu lưu", Language: catalog.LanguageVietnamese},
		{Title: "Dune", Author: "Frank Herbert", Category: "Sci-Fi", Summary: strings.Repeat("ạ", 450), Language: catalog.LanguageEnglish},
	})
}

func TestCompileIsDeterministic(t *testing.T) {
	for _, c := range []catalog.Catalog{{}, sampleCatalog()} {
		assert.Equal(t, Compile(c), Compile(c))
	}
}

func TestCompileEmptyCatalogYieldsEmptyBlock(t *testing.T) {
	block := Compile(catalog.Catalog{})
	assert.True(t, block.Empty())
}

func TestCompilePreservesOrderAndFormat(t *testing.T) {
	block := string(Compile(sampleCatalog()))
	lines := strings.Split(strings.TrimSuffix(block, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "- Tên: Dế Mèn | Tác giả: Tô Hoài | Thể loại: Fiction | Tóm tắt: Phiêu lưu", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "- Tên: Dune |"))
}

func TestCompileTruncatesLongSummaries(t *testing.T) {
	block := string(Compile(sampleCatalog()))
	lines := strings.Split(strings.TrimSuffix(block, "\n"), "\n")
	_, excerpt, found := strings.Cut(lines[1], "Tóm tắt: ")
	require.True(t, found)
	assert.LessOrEqual(t, utf8.RuneCountInString(excerpt), SummaryExcerptRunes)
	assert.Equal(t, SummaryExcerptRunes, utf8.RuneCountInString(excerpt))
}

func TestCompileBoundedKeepsWholeLines(t *testing.T) {
	full := Compile(sampleCatalog())
	firstLine := strings.SplitAfter(string(full), "\n")[0]

	bounded, omitted := CompileBounded(sampleCatalog(), utf8.RuneCountInString(firstLine)+10)
	assert.Equal(t, firstLine, string(bounded))
	assert.Equal(t, 1, omitted)

	unbounded, omitted := CompileBounded(sampleCatalog(), 0)
	assert.Equal(t, full, unbounded)
	assert.Zero(t, omitted)
}

func TestCompileBoundedAlwaysKeepsFirstRecord(t *testing.T) {
	firstLine := strings.SplitAfter(string(Compile(sampleCatalog())), "\n")[0]

	bounded, omitted := CompileBounded(sampleCatalog(), 5)
	assert.Equal(t, firstLine, string(bounded))
	assert.Equal(t, 1, omitted)
}

func TestBlockBudgetCoversWholeInstruction(t *testing.T) {
	firstLine := strings.SplitAfter(string(Compile(sampleCatalog())), "\n")[0]
	limit := utf8.RuneCountInString(Curator.Instruction(ContextBlock(firstLine))) + 5

	block, omitted := CompileBounded(sampleCatalog(), Curator.BlockBudget(limit))
	assert.Equal(t, firstLine, string(block))
	assert.Equal(t, 1, omitted)
	assert.LessOrEqual(t, utf8.RuneCountInString(Curator.Instruction(block)), limit)

	assert.Zero(t, Curator.BlockBudget(0))
	assert.Equal(t, 1, Curator.BlockBudget(10))
}

func TestExcerptCutsOnRunes(t *testing.T) {
	assert.Equal(t, "Tô", Excerpt("Tô Hoài", 2))
	assert.Equal(t, "short", Excerpt("short", 200))
}

func TestInstructionEmbedsBlockVerbatim(t *testing.T) {
	block := Compile(sampleCatalog())
	instr := Curator.Instruction(block)
	assert.Contains(t, instr, string(block))
	assert.Contains(t, instr, "Bạn tên là Thư")
	assert.Contains(t, instr, "Ngắn gọn (dưới 150 từ)")
	assert.Equal(t, instr, Curator.Instruction(block))
	assert.NotEqual(t, Fingerprint(instr), Fingerprint(Curator.Instruction("")))
}
