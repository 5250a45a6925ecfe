package engine

import (
	"sort"

	"customs-sequence-reconciler/internal/models"
)

// Composite lookup keys. Struct keys instead of delimiter-joined strings:
// no delimiter-collision risk, and the compiler keeps field order honest.

type docCodeCountryKey struct {
	doc     string
	code    string
	country string
}

type docCodeKey struct {
	doc  string
	code string
}

type docChapterKey struct {
	doc     string
	chapter string
}

// CandidateIndex provides the declaration-side lookup structures the cascade
// works against, keyed by decreasing specificity. Every bucket preserves the
// declaration feed's insertion order, which drives first-match tie-breaks.
// Built once per reconciliation run; O(n) construction.
type CandidateIndex struct {
	byDocCodeCountry map[docCodeCountryKey][]*models.DeclarationLine
	byDocCode        map[docCodeKey][]*models.DeclarationLine
	byDocument       map[string][]*models.DeclarationLine
	byDocChapter     map[docChapterKey][]*models.DeclarationLine
	byComposite      map[string]*models.DeclarationLine

	// codes holds every normalized tariff code in the feed; docsForCode maps
	// a code to the documents it appears under. Both exist for diagnostics.
	codes       map[string]bool
	docsForCode map[string][]string

	// All holds the indexed lines in feed order.
	All []*models.DeclarationLine
}

// NewCandidateIndex builds the four lookup maps plus the direct-key map over
// the declaration feed. Fields are normalized here as well as in the parser
// so that an index built from hand-constructed lines still compares
// canonical forms.
func NewCandidateIndex(lines []*models.DeclarationLine) *CandidateIndex {
	idx := &CandidateIndex{
		byDocCodeCountry: make(map[docCodeCountryKey][]*models.DeclarationLine),
		byDocCode:        make(map[docCodeKey][]*models.DeclarationLine),
		byDocument:       make(map[string][]*models.DeclarationLine),
		byDocChapter:     make(map[docChapterKey][]*models.DeclarationLine),
		byComposite:      make(map[string]*models.DeclarationLine),
		codes:            make(map[string]bool),
		docsForCode:      make(map[string][]string),
		All:              lines,
	}

	seenDocForCode := make(map[docCodeKey]bool)
	for _, d := range lines {
		code := d.NormalizedCode()
		country := d.NormalizedCountry()

		k1 := docCodeCountryKey{d.DocumentID, code, country}
		idx.byDocCodeCountry[k1] = append(idx.byDocCodeCountry[k1], d)

		k2 := docCodeKey{d.DocumentID, code}
		idx.byDocCode[k2] = append(idx.byDocCode[k2], d)

		idx.byDocument[d.DocumentID] = append(idx.byDocument[d.DocumentID], d)

		k4 := docChapterKey{d.DocumentID, models.ChapterOf(code)}
		idx.byDocChapter[k4] = append(idx.byDocChapter[k4], d)

		if ck := d.EffectiveCompositeKey(); ck != "" {
			// First occurrence wins, matching feed order.
			if _, dup := idx.byComposite[ck]; !dup {
				idx.byComposite[ck] = d
			}
		}

		idx.codes[code] = true
		if !seenDocForCode[k2] {
			seenDocForCode[k2] = true
			idx.docsForCode[code] = append(idx.docsForCode[code], d.DocumentID)
		}
	}

	return idx
}

// ByDocCodeCountry returns the exact-key bucket, in feed order.
func (idx *CandidateIndex) ByDocCodeCountry(doc, code, country string) []*models.DeclarationLine {
	return idx.byDocCodeCountry[docCodeCountryKey{doc, models.NormalizeTariffCode(code), models.NormalizeCountry(country)}]
}

// ByDocCode returns the country-agnostic bucket, in feed order.
func (idx *CandidateIndex) ByDocCode(doc, code string) []*models.DeclarationLine {
	return idx.byDocCode[docCodeKey{doc, models.NormalizeTariffCode(code)}]
}

// ByDocument returns the whole-document fallback bucket, in feed order.
func (idx *CandidateIndex) ByDocument(doc string) []*models.DeclarationLine {
	return idx.byDocument[doc]
}

// ByDocChapter returns the chapter-level fallback bucket, in feed order.
func (idx *CandidateIndex) ByDocChapter(doc, chapter string) []*models.DeclarationLine {
	return idx.byDocChapter[docChapterKey{doc, chapter}]
}

// ByCompositeKey returns the declaration line carrying the given composite
// key, or nil.
func (idx *CandidateIndex) ByCompositeKey(key string) *models.DeclarationLine {
	return idx.byComposite[key]
}

// HasCode reports whether the normalized code appears anywhere in the feed.
func (idx *CandidateIndex) HasCode(code string) bool {
	return idx.codes[models.NormalizeTariffCode(code)]
}

// DocumentsWithCode returns the documents the code appears under, sorted for
// deterministic diagnostics output.
func (idx *CandidateIndex) DocumentsWithCode(code string) []string {
	docs := append([]string(nil), idx.docsForCode[models.NormalizeTariffCode(code)]...)
	sort.Strings(docs)
	return docs
}

// CountriesForDocCode returns the distinct declared countries under a
// document+code bucket, sorted, for the country-mismatch diagnostic.
func (idx *CandidateIndex) CountriesForDocCode(doc, code string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range idx.ByDocCode(doc, code) {
		c := d.NormalizedCountry()
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// IndexStats provides bucket counts, mostly for debug logging.
type IndexStats struct {
	TotalLines       int
	UniqueExactKeys  int
	UniqueDocCode    int
	UniqueDocuments  int
	UniqueChapters   int
	CompositeKeys    int
}

// Stats returns statistics about the built index.
func (idx *CandidateIndex) Stats() IndexStats {
	return IndexStats{
		TotalLines:      len(idx.All),
		UniqueExactKeys: len(idx.byDocCodeCountry),
		UniqueDocCode:   len(idx.byDocCode),
		UniqueDocuments: len(idx.byDocument),
		UniqueChapters:  len(idx.byDocChapter),
		CompositeKeys:   len(idx.byComposite),
	}
}
