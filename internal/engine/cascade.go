package engine

import (
	"fmt"
	"sort"

	"customs-sequence-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// Tier identifiers, in cascade order. The order is structural: earlier tiers
// use stricter keys and tolerances, and a row assigned by one tier never
// re-enters a later one.
const (
	TierDirectKey   = "E0"  // composite-key verification, no tolerance
	TierExactFull   = "E1"  // (doc, code, country) group, absolute tolerance
	TierExactSeq    = "E2"  // (doc, code, country, seq) group, absolute tolerance
	TierExactCode   = "E3"  // (doc, code) group, absolute tolerance
	TierExactCoSeq  = "E4"  // (doc, code, seq) group, absolute tolerance
	TierRelaxed     = "E5"  // percentage tolerance with floors
	TierCombination = "E6"  // subset-sum over the doc+code pool
	TierUnitPrice   = "E7"  // unit-price discriminator
	TierElimination = "E8"  // single unclaimed candidate left
	TierChapter     = "E9"  // chapter-level code, corrections recorded
	TierDocument    = "E10" // document-only key, corrections recorded
	TierForced      = "E11" // closest unclaimed by unit price, unconditional
	TierReverse1    = "R1"  // reverse sweep, first band, may reuse
	TierReverse2    = "R2"  // reverse sweep, second band, may reuse
	TierReverse3    = "R3"  // reverse sweep, unconditional, may reuse
)

// GroupCrossCheck records, for every group a tier resolved, the totals on both
// sides and whether the broadened-key tiers had to override code or country.
// Reporters render these as the audit trail of the run.
type GroupCrossCheck struct {
	Tier             string          `json:"tier"`
	DocumentID       string          `json:"documentId"`
	TariffCode       string          `json:"tariffCode"`
	CountryCode      string          `json:"countryCode,omitempty"`
	SequenceID       string          `json:"sequenceId"`
	MemberCount      int             `json:"memberCount"`
	GroupQuantity    decimal.Decimal `json:"groupQuantity"`
	GroupValue       decimal.Decimal `json:"groupValue"`
	DeclaredQuantity decimal.Decimal `json:"declaredQuantity"`
	DeclaredValue    decimal.Decimal `json:"declaredValue"`
	QuantityDelta    decimal.Decimal `json:"quantityDelta"`
	ValueDelta       decimal.Decimal `json:"valueDelta"`
	CodeAgrees       bool            `json:"codeAgrees"`
	CountryAgrees    bool            `json:"countryAgrees"`
}

// groupKey identifies a ledger group. Tiers that do not group on a dimension
// leave it empty, so the same comparable type serves every tier.
type groupKey struct {
	doc     string
	code    string
	country string
	seq     string
}

// ledgerGroup is a set of pending ledger rows sharing a group key, with their
// aggregate quantity and value.
type ledgerGroup struct {
	key     groupKey
	members []*models.LedgerLine
	qty     decimal.Decimal
	val     decimal.Decimal
}

// cascadeOutcome is what runCascade hands back to the engine: one assignment
// per resolved ledger row, the per-group audit records, the final claim state
// and per-tier counts.
type cascadeOutcome struct {
	assignments map[int]*models.Assignment
	crossChecks []GroupCrossCheck
	claims      *ClaimState
	tierCounts  map[string]int
}

type cascadeState struct {
	cfg    *Config
	idx    *CandidateIndex
	ledger []*models.LedgerLine

	claims      *ClaimState
	assignments map[int]*models.Assignment
	crossChecks []GroupCrossCheck
	tierCounts  map[string]int
}

// runCascade executes the full tier ladder over the ledger. Excluded rows
// never enter; rows the ladder cannot resolve stay absent from the assignment
// map and get a diagnostic later. The cascade is single-threaded and iterates
// groups in sorted key order, so identical input always yields identical
// output.
func runCascade(ledger []*models.LedgerLine, idx *CandidateIndex, cfg *Config) *cascadeOutcome {
	s := &cascadeState{
		cfg:         cfg,
		idx:         idx,
		ledger:      ledger,
		claims:      NewClaimState(len(idx.All)),
		assignments: make(map[int]*models.Assignment),
		tierCounts:  make(map[string]int),
	}

	s.tierDirectKey()

	absBasis := fmt.Sprintf("abs ±%s/±%s", cfg.ExactQtyTol, cfg.ExactValTol)
	absTol := func(g *ledgerGroup) (decimal.Decimal, decimal.Decimal) {
		return cfg.ExactQtyTol, cfg.ExactValTol
	}
	pctTol := func(g *ledgerGroup) (decimal.Decimal, decimal.Decimal) {
		return models.PctTolerance(g.qty, cfg.RelaxedPct, cfg.RelaxedQtyFloor),
			models.PctTolerance(g.val, cfg.RelaxedPct, cfg.RelaxedValFloor)
	}

	s.runGroupTier(TierExactFull, absBasis, keyDocCodeCountry, s.bucketDocCodeCountry, absTol)
	s.runGroupTier(TierExactSeq, absBasis, keyDocCodeCountrySeq, s.bucketDocCodeCountry, absTol)
	s.runGroupTier(TierExactCode, absBasis, keyDocCode, s.bucketDocCode, absTol)
	s.runGroupTier(TierExactCoSeq, absBasis, keyDocCodeSeq, s.bucketDocCode, absTol)
	if cfg.RelaxedPct > 0 {
		s.runGroupTier(TierRelaxed, fmt.Sprintf("pct %.0f%%", cfg.RelaxedPct), keyDocCodeCountrySeq, s.bucketDocCode, pctTol)
	}

	s.tierCombination()
	if cfg.UnitPricePct > 0 {
		s.tierUnitPrice()
	}
	s.tierElimination()
	if cfg.ChapterPct > 0 {
		s.tierChapter()
	}
	if cfg.DocumentPct > 0 {
		s.tierDocument()
	}
	if cfg.EnableForcedGreedy {
		s.tierForced()
	}
	if cfg.EnableReverseSweep {
		for i, pct := range cfg.ReverseSweepPcts {
			tier := TierReverse1
			if i == 1 {
				tier = TierReverse2
			}
			if i < 2 {
				s.tierReverseBand(tier, pct)
			}
		}
		s.tierReverseFinal()
	}

	return &cascadeOutcome{
		assignments: s.assignments,
		crossChecks: s.crossChecks,
		claims:      s.claims,
		tierCounts:  s.tierCounts,
	}
}

// --- group building ---------------------------------------------------------

func keyDocCodeCountry(l *models.LedgerLine) groupKey {
	return groupKey{doc: l.DocumentID, code: l.NormalizedCode(), country: l.NormalizedCountry()}
}

func keyDocCodeCountrySeq(l *models.LedgerLine) groupKey {
	return groupKey{doc: l.DocumentID, code: l.NormalizedCode(), country: l.NormalizedCountry(), seq: l.NormalizedSequence()}
}

func keyDocCode(l *models.LedgerLine) groupKey {
	return groupKey{doc: l.DocumentID, code: l.NormalizedCode()}
}

func keyDocCodeSeq(l *models.LedgerLine) groupKey {
	return groupKey{doc: l.DocumentID, code: l.NormalizedCode(), seq: l.NormalizedSequence()}
}

// pendingGroups partitions the still-unassigned, non-excluded ledger rows by
// keyFn and returns the groups sorted by key, members in feed order.
func (s *cascadeState) pendingGroups(keyFn func(*models.LedgerLine) groupKey) []*ledgerGroup {
	byKey := make(map[groupKey]*ledgerGroup)
	var order []groupKey
	for _, l := range s.ledger {
		if l.Excluded {
			continue
		}
		if _, done := s.assignments[l.Index]; done {
			continue
		}
		k := keyFn(l)
		g, ok := byKey[k]
		if !ok {
			g = &ledgerGroup{key: k}
			byKey[k] = g
			order = append(order, k)
		}
		g.members = append(g.members, l)
		g.qty = g.qty.Add(l.Quantity)
		g.val = g.val.Add(l.Value)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.doc != b.doc {
			return a.doc < b.doc
		}
		if a.code != b.code {
			return a.code < b.code
		}
		if a.country != b.country {
			return a.country < b.country
		}
		return a.seq < b.seq
	})
	out := make([]*ledgerGroup, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// pendingRows returns the still-unassigned, non-excluded rows in feed order.
func (s *cascadeState) pendingRows() []*models.LedgerLine {
	var out []*models.LedgerLine
	for _, l := range s.ledger {
		if l.Excluded {
			continue
		}
		if _, done := s.assignments[l.Index]; done {
			continue
		}
		out = append(out, l)
	}
	return out
}

// unclaimed filters a candidate bucket down to lines no forward tier has
// consumed, preserving feed order.
func (s *cascadeState) unclaimed(bucket []*models.DeclarationLine) []*models.DeclarationLine {
	var out []*models.DeclarationLine
	for _, d := range bucket {
		if !s.claims.IsClaimed(d.Index) {
			out = append(out, d)
		}
	}
	return out
}

func (s *cascadeState) bucketDocCodeCountry(g *ledgerGroup) []*models.DeclarationLine {
	return s.unclaimed(s.idx.ByDocCodeCountry(g.key.doc, g.key.code, g.key.country))
}

func (s *cascadeState) bucketDocCode(g *ledgerGroup) []*models.DeclarationLine {
	return s.unclaimed(s.idx.ByDocCode(g.key.doc, g.key.code))
}

// --- assignment plumbing ----------------------------------------------------

func changeKind(row *models.LedgerLine, seq string) models.ChangeKind {
	existing := row.NormalizedSequence()
	switch {
	case existing == "":
		return models.ChangeNew
	case existing == models.NormalizeSequence(seq):
		return models.ChangeConfirmed
	default:
		return models.ChangeModified
	}
}

// corrections compares the ledger row's code and country against the matched
// declaration and emits one FieldCorrection per disagreement. Only the
// broadened-key and last-resort tiers call this: within exact tiers the key
// itself guarantees agreement.
func corrections(row *models.LedgerLine, decl *models.DeclarationLine) []models.FieldCorrection {
	var out []models.FieldCorrection
	if row.NormalizedCode() != decl.NormalizedCode() {
		out = append(out, models.FieldCorrection{
			LedgerIndex: row.Index,
			Field:       "tariffCode",
			LedgerValue: row.NormalizedCode(),
			Authority:   decl.NormalizedCode(),
		})
	}
	if row.NormalizedCountry() != decl.NormalizedCountry() {
		out = append(out, models.FieldCorrection{
			LedgerIndex: row.Index,
			Field:       "countryCode",
			LedgerValue: row.NormalizedCountry(),
			Authority:   decl.NormalizedCountry(),
		})
	}
	return out
}

// assignRow records an assignment for one ledger row and claims the
// declaration line unless the tier runs in reuse mode.
func (s *cascadeState) assignRow(row *models.LedgerLine, decl *models.DeclarationLine, tier, basis string, reuse, correct bool) {
	a := &models.Assignment{
		LedgerIndex:      row.Index,
		SequenceID:       decl.SequenceID,
		Tier:             tier,
		ToleranceBasis:   basis,
		Declaration:      decl,
		DeclarationIndex: decl.Index,
		Change:           changeKind(row, decl.SequenceID),
	}
	if correct {
		a.Corrections = corrections(row, decl)
	}
	if reuse {
		a.Reused = s.claims.IsClaimed(decl.Index)
	}
	s.claims.Claim(decl.Index)
	s.assignments[row.Index] = a
	s.tierCounts[tier]++
}

// assignGroup assigns every member of a group to a single declaration line
// and records the cross-check audit row.
func (s *cascadeState) assignGroup(g *ledgerGroup, decl *models.DeclarationLine, tier, basis string, correct bool) {
	for _, row := range g.members {
		s.assignRow(row, decl, tier, basis, false, correct)
	}
	s.crossCheck(g, tier, decl.SequenceID, decl.Quantity, decl.Value,
		g.key.code == decl.NormalizedCode() || g.key.code == "",
		g.key.country == decl.NormalizedCountry() || g.key.country == "")
}

func (s *cascadeState) crossCheck(g *ledgerGroup, tier, seq string, declQty, declVal decimal.Decimal, codeAgrees, countryAgrees bool) {
	s.crossChecks = append(s.crossChecks, GroupCrossCheck{
		Tier:             tier,
		DocumentID:       g.key.doc,
		TariffCode:       g.key.code,
		CountryCode:      g.key.country,
		SequenceID:       seq,
		MemberCount:      len(g.members),
		GroupQuantity:    g.qty,
		GroupValue:       g.val,
		DeclaredQuantity: declQty,
		DeclaredValue:    declVal,
		QuantityDelta:    g.qty.Sub(declQty),
		ValueDelta:       g.val.Sub(declVal),
		CodeAgrees:       codeAgrees,
		CountryAgrees:    countryAgrees,
	})
}

// --- tiers ------------------------------------------------------------------

// tierDirectKey verifies rows that already carry a composite key (or enough
// fields to derive one) directly against the declaration feed's composite
// keys. A hit is authoritative: zero tolerance, no totals comparison.
func (s *cascadeState) tierDirectKey() {
	for _, row := range s.ledger {
		if row.Excluded {
			continue
		}
		key := row.CompositeKey
		if key == "" {
			if !row.HasRealSequence() {
				continue
			}
			key = models.DefaultCompositeKey(row.DocumentID, row.TariffCode, row.ExistingSequenceID)
		}
		decl := s.idx.ByCompositeKey(key)
		if decl == nil {
			continue
		}
		s.assignRow(row, decl, TierDirectKey, "direct key", false, false)
	}
}

// runGroupTier is the shared engine of tiers E1-E5: group the pending rows,
// pull the tier's candidate bucket, take the first candidate whose totals
// fall inside the tier's tolerance band.
func (s *cascadeState) runGroupTier(tier, basis string, keyFn func(*models.LedgerLine) groupKey,
	bucketFn func(*ledgerGroup) []*models.DeclarationLine,
	tolFn func(*ledgerGroup) (decimal.Decimal, decimal.Decimal)) {

	for _, g := range s.pendingGroups(keyFn) {
		candidates := bucketFn(g)
		if len(candidates) == 0 {
			continue
		}
		tolQty, tolVal := tolFn(g)
		decl := firstWithinTolerance(candidates, g.qty, g.val, tolQty, tolVal)
		if decl == nil {
			continue
		}
		s.assignGroup(g, decl, tier, basis, false)
	}
}

// tierCombination resolves groups whose quantity was split across several
// declaration lines: a subset of the doc+code pool summing to the group's
// totals. Group members are then partitioned among the subset lines by
// largest remaining quota, so each ledger row ends with exactly one sequence.
func (s *cascadeState) tierCombination() {
	cfg := s.cfg
	basis := fmt.Sprintf("subset pct %.0f%%", cfg.RelaxedPct)
	for _, g := range s.pendingGroups(keyDocCode) {
		pool := s.bucketDocCode(g)
		if len(pool) < 2 {
			continue
		}
		tolQty := models.PctTolerance(g.qty, cfg.RelaxedPct, cfg.RelaxedQtyFloor)
		tolVal := models.PctTolerance(g.val, cfg.RelaxedPct, cfg.RelaxedValFloor)
		subset := findSubset(pool, g.qty, g.val, tolQty, tolVal, cfg.subsetOptions(true))
		if len(subset) == 0 {
			continue
		}

		assignments := partitionByQuota(g.members, subset)
		var subQty, subVal decimal.Decimal
		for _, d := range subset {
			subQty = subQty.Add(d.Quantity)
			subVal = subVal.Add(d.Value)
		}
		for row, decl := range assignments {
			s.assignRow(row, decl, TierCombination, basis, false, false)
		}
		for _, d := range subset {
			s.claims.Claim(d.Index)
		}
		s.crossCheck(g, TierCombination, combinedSequences(subset), subQty, subVal, true, true)
	}
}

// partitionByQuota distributes group members over the subset's declaration
// lines. Members are taken largest-first; each goes to the declaration line
// with the most unconsumed quantity, ties broken by feed order. The quota may
// go negative, which simply steers later members elsewhere.
func partitionByQuota(members []*models.LedgerLine, subset []*models.DeclarationLine) map[*models.LedgerLine]*models.DeclarationLine {
	remaining := make([]decimal.Decimal, len(subset))
	for i, d := range subset {
		remaining[i] = d.Quantity
	}

	ordered := append([]*models.LedgerLine(nil), members...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Quantity.GreaterThan(ordered[j].Quantity)
	})

	out := make(map[*models.LedgerLine]*models.DeclarationLine, len(members))
	for _, row := range ordered {
		best := 0
		for i := 1; i < len(subset); i++ {
			if remaining[i].GreaterThan(remaining[best]) {
				best = i
			}
		}
		out[row] = subset[best]
		remaining[best] = remaining[best].Sub(row.Quantity)
	}
	return out
}

func combinedSequences(subset []*models.DeclarationLine) string {
	seqs := make([]string, len(subset))
	for i, d := range subset {
		seqs[i] = d.SequenceID
	}
	sort.Strings(seqs)
	out := ""
	for i, q := range seqs {
		if i > 0 {
			out += "+"
		}
		out += q
	}
	return out
}

// tierUnitPrice handles groups whose totals disagree with every candidate
// (carry-over balances from earlier periods) but whose value-per-unit still
// identifies the material.
func (s *cascadeState) tierUnitPrice() {
	basis := fmt.Sprintf("unit-price %.0f%%", s.cfg.UnitPricePct)
	for _, g := range s.pendingGroups(keyDocCode) {
		candidates := s.bucketDocCode(g)
		decl := matchByUnitPrice(candidates, g.qty, g.val, s.cfg.UnitPricePct)
		if decl == nil {
			continue
		}
		s.assignGroup(g, decl, TierUnitPrice, basis, false)
	}
}

// tierElimination: when exactly one unclaimed candidate remains under the
// group's doc+code key, it must be the counterpart regardless of totals.
func (s *cascadeState) tierElimination() {
	for _, g := range s.pendingGroups(keyDocCode) {
		candidates := s.bucketDocCode(g)
		if len(candidates) != 1 {
			continue
		}
		s.assignGroup(g, candidates[0], TierElimination, "sole remaining candidate", false)
	}
}

// tierChapter broadens the tariff code to its chapter prefix, for feeds where
// the ledger and the declaration classified under sibling codes. Matches
// record corrections for the disagreeing fields.
func (s *cascadeState) tierChapter() {
	basis := fmt.Sprintf("chapter unit-price %.0f%%", s.cfg.ChapterPct)
	for _, g := range s.pendingGroups(keyDocCode) {
		candidates := s.unclaimed(s.idx.ByDocChapter(g.key.doc, models.ChapterOf(g.key.code)))
		decl := matchByUnitPrice(candidates, g.qty, g.val, s.cfg.ChapterPct)
		if decl == nil {
			continue
		}
		s.assignGroup(g, decl, TierChapter, basis, true)
	}
}

// tierDocument drops the code entirely and searches the whole document.
func (s *cascadeState) tierDocument() {
	basis := fmt.Sprintf("document unit-price %.0f%%", s.cfg.DocumentPct)
	for _, g := range s.pendingGroups(keyDocCode) {
		candidates := s.unclaimed(s.idx.ByDocument(g.key.doc))
		decl := matchByUnitPrice(candidates, g.qty, g.val, s.cfg.DocumentPct)
		if decl == nil {
			continue
		}
		s.assignGroup(g, decl, TierDocument, basis, true)
	}
}

// tierForced assigns each remaining row the unit-price-closest unclaimed
// candidate from its document, with no tolerance gate. Rows in documents with
// no unclaimed candidates left stay pending for the reverse sweep.
func (s *cascadeState) tierForced() {
	for _, row := range s.pendingRows() {
		candidates := s.unclaimed(s.idx.ByDocument(row.DocumentID))
		decl, _ := closestByUnitPrice(candidates, row.Quantity, row.Value)
		if decl == nil {
			continue
		}
		s.assignRow(row, decl, TierForced, "unconditional", false, true)
	}
}

// tierReverseBand is the per-row reverse sweep at one percentage band. Unlike
// the forward tiers it may hand out declaration lines already claimed, since
// at this point a shared sequence beats no sequence; such assignments carry
// the Reused flag.
func (s *cascadeState) tierReverseBand(tier string, pct float64) {
	basis := fmt.Sprintf("reverse pct %.0f%%", pct)
	for _, row := range s.pendingRows() {
		candidates := s.idx.ByDocCode(row.DocumentID, row.TariffCode)
		if len(candidates) == 0 {
			candidates = s.idx.ByDocChapter(row.DocumentID, models.ChapterOf(row.NormalizedCode()))
		}
		tolQty := models.PctTolerance(row.Quantity, pct, s.cfg.RelaxedQtyFloor)
		tolVal := models.PctTolerance(row.Value, pct, s.cfg.RelaxedValFloor)
		decl := firstWithinTolerance(candidates, row.Quantity, row.Value, tolQty, tolVal)
		if decl == nil {
			continue
		}
		s.assignRow(row, decl, tier, basis, true, true)
	}
}

// tierReverseFinal is the unconditional last pass: the unit-price-closest
// declaration line in the document, claimed or not.
func (s *cascadeState) tierReverseFinal() {
	for _, row := range s.pendingRows() {
		candidates := s.idx.ByDocument(row.DocumentID)
		decl, _ := closestByUnitPrice(candidates, row.Quantity, row.Value)
		if decl == nil {
			continue
		}
		s.assignRow(row, decl, TierReverse3, "unconditional", true, true)
	}
}
