// Package persona turns the catalog into the grounding block and system
// instruction that define the curator assistant.
package persona

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/ent0n29/curator/internal/catalog"
)

// SummaryExcerptRunes caps the per-record summary excerpt in the grounding block.
const SummaryExcerptRunes = 200

// EmptyCatalogNotice is shown in place of catalog counters when nothing loaded.
const EmptyCatalogNotice = "Chưa có dữ liệu!"

// Persona holds the fixed identity and tone rules of the assistant.
type Persona struct {
	Name       string
	Role       string
	School     string
	SelfRef    string
	UserRef    string
	Traits     []string
	MaxWords   int
	Greeting   string
	BusyPrefix string
	NoDataText string
}

// Curator is the library curator persona the service ships with.
var Curator = Persona{
	Name:       "Thư",
	Role:       `"Người Giám Tuyển" (The Curator)`,
	School:     "Vinschool Times City",
	SelfRef:    "Tớ",
	UserRef:    "Cậu",
	Traits:     []string{"Thông minh, hơi bí ẩn, cuốn hút.", "Luôn gợi mở sự tò mò."},
	MaxWords:   150,
	Greeting:   "Chào cậu! Tớ là Thư. Cậu đang tìm kiếm bí mật nào trong những trang sách?",
	BusyPrefix: "Thư đang bận (Lỗi kết nối)",
	NoDataText: "Chưa load được dữ liệu sách!",
}

var instructionTemplate = template.Must(template.New("instruction").Parse(`
BỐI CẢNH:
Bạn tên là {{.P.Name}} - một học sinh trường {{.P.School}}.
Bạn là {{.P.Role}} của thư viện số này.

NHIỆM VỤ:
Tư vấn sách cho học sinh dựa trên danh sách sau:
{{.Block}}
PHONG CÁCH:
- Xưng hô: {{.P.SelfRef}} ({{.P.Name}}) - {{.P.UserRef}} (Bạn).
{{- range .P.Traits}}
- {{.}}
{{- end}}
- Ngắn gọn (dưới {{.P.MaxWords}} từ).
`))

// ContextBlock is the grounding text derived from a catalog. Empty means no
// grounding is available.
type ContextBlock string

func (b ContextBlock) Empty() bool { return b == "" }

// Fingerprint is a stable identity for an instruction string.
func Fingerprint(instruction string) string {
	sum := sha256.Sum256([]byte(instruction))
	return hex.EncodeToString(sum[:])
}

// Compile renders one line per record in catalog order.
func Compile(c catalog.Catalog) ContextBlock {
	block, _ := CompileBounded(c, 0)
	return block
}

// CompileBounded is Compile with a cap on the block in runes and reports how
// many records were left out. Lines are kept whole and the first record is
// always kept, so a non-empty catalog never compiles to an empty block.
// maxRunes <= 0 disables the cap.
func CompileBounded(c catalog.Catalog, maxRunes int) (ContextBlock, int) {
	records := c.Records()
	var b strings.Builder
	used := 0
	for i, r := range records {
		line := formatLine(r)
		n := utf8.RuneCountInString(line)
		if maxRunes > 0 && i > 0 && used+n > maxRunes {
			return ContextBlock(b.String()), len(records) - i
		}
		b.WriteString(line)
		used += n
	}
	return ContextBlock(b.String()), 0
}

// BlockBudget converts a cap on the whole instruction into a cap on the
// block by subtracting the template's own length. A cap at or below the
// template length leaves room for one record only. maxInstructionRunes <= 0
// means unbounded and yields 0.
func (p Persona) BlockBudget(maxInstructionRunes int) int {
	if maxInstructionRunes <= 0 {
		return 0
	}
	budget := maxInstructionRunes - utf8.RuneCountInString(p.Instruction(""))
	if budget < 1 {
		budget = 1
	}
	return budget
}

func formatLine(r catalog.BookRecord) string {
	return "- Tên: " + r.Title +
		" | Tác giả: " + r.Author +
		" | Thể loại: " + r.Category +
		" | Tóm tắt: " + Excerpt(r.Summary, SummaryExcerptRunes) + "\n"
}

// Excerpt hard-cuts s to at most n runes.
func Excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Instruction substitutes the block verbatim into the persona template.
func (p Persona) Instruction(block ContextBlock) string {
	var b strings.Builder
	data := struct {
		P     Persona
		Block ContextBlock
	}{P: p, Block: block}
	if err := instructionTemplate.Execute(&b, data); err != nil {
		// The template is parsed at init and only reads plain fields.
		panic(err)
	}
	return b.String()
}
