// Command feedgen generates paired ledger/declaration CSV fixtures for
// exercising the reconciliation cascade.
//
// Usage:
//
//	go run feedgen.go -scenario=clean -rows=100 -output-dir=../generated
//	go run feedgen.go -scenario=noisy -seed=42
//	go run feedgen.go -list
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
)

// scenario names a generation strategy for a feed pair.
type scenario struct {
	Name        string
	Description string
	Generate    func(g *feedGenerator) (ledger, declarations [][]string)
}

var scenarios = []scenario{
	{
		Name:        "clean",
		Description: "every ledger group matches one declaration line exactly",
		Generate:    (*feedGenerator).generateClean,
	},
	{
		Name:        "split",
		Description: "ledger groups that need 2-3 declaration lines to cover",
		Generate:    (*feedGenerator).generateSplit,
	},
	{
		Name:        "noisy",
		Description: "leading zeros, case drift, excluded rows, orphan lines",
		Generate:    (*feedGenerator).generateNoisy,
	},
}

var ledgerHeader = []string{"documentId", "tariffCode", "countryCode", "quantity", "value", "sequenceId", "notes"}
var declarationHeader = []string{"documentId", "tariffCode", "countryCode", "quantity", "value", "sequenceId"}

var tariffCodes = []string{"85011099", "85013022", "90328900", "84713001", "39269099"}
var countries = []string{"US", "MX", "CN", "DE", "JP"}

type feedGenerator struct {
	rng  *rand.Rand
	rows int
}

func main() {
	var (
		name      = flag.String("scenario", "clean", "scenario to generate")
		rows      = flag.Int("rows", 50, "approximate number of ledger rows")
		seed      = flag.Int64("seed", 1, "random seed for reproducible fixtures")
		outputDir = flag.String("output-dir", "../generated", "output directory")
		list      = flag.Bool("list", false, "list available scenarios")
	)
	flag.Parse()

	if *list {
		fmt.Println("Available scenarios:")
		for _, s := range scenarios {
			fmt.Printf("  %-8s %s\n", s.Name, s.Description)
		}
		return
	}

	var selected *scenario
	for i := range scenarios {
		if scenarios[i].Name == *name {
			selected = &scenarios[i]
			break
		}
	}
	if selected == nil {
		log.Fatalf("unknown scenario %q, use -list to see the options", *name)
	}

	g := &feedGenerator{rng: rand.New(rand.NewSource(*seed)), rows: *rows}
	ledger, declarations := selected.Generate(g)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("creating output dir: %v", err)
	}
	ledgerPath := filepath.Join(*outputDir, fmt.Sprintf("%s_ledger.csv", selected.Name))
	declPath := filepath.Join(*outputDir, fmt.Sprintf("%s_declarations.csv", selected.Name))

	if err := writeCSV(ledgerPath, ledgerHeader, ledger); err != nil {
		log.Fatalf("writing ledger: %v", err)
	}
	if err := writeCSV(declPath, declarationHeader, declarations); err != nil {
		log.Fatalf("writing declarations: %v", err)
	}

	fmt.Printf("Generated %d ledger rows -> %s\n", len(ledger), ledgerPath)
	fmt.Printf("Generated %d declaration lines -> %s\n", len(declarations), declPath)
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (g *feedGenerator) document(i int) string {
	return fmt.Sprintf("%02d-4042-%07d", 21+i%3, 1000000+i)
}

func (g *feedGenerator) unitPrice() decimal.Decimal {
	return decimal.NewFromFloat(5 + g.rng.Float64()*95).Round(2)
}

// generateClean emits one declaration line per ledger group with identical
// totals, so every row resolves on the exact tiers.
func (g *feedGenerator) generateClean() ([][]string, [][]string) {
	var ledger, declarations [][]string
	seq := 1
	for i := 0; len(ledger) < g.rows; i++ {
		doc := g.document(i)
		code := tariffCodes[g.rng.Intn(len(tariffCodes))]
		country := countries[g.rng.Intn(len(countries))]
		qty := decimal.NewFromInt(int64(10 + g.rng.Intn(200)))
		val := qty.Mul(g.unitPrice()).Round(2)

		ledger = append(ledger, []string{doc, code, country, qty.String(), val.String(), "", ""})
		declarations = append(declarations, []string{doc, code, country, qty.String(), val.String(), strconv.Itoa(seq)})
		seq++
	}
	return ledger, declarations
}

// generateSplit emits ledger groups whose totals only close over 2-3
// declaration lines, exercising the combination tier.
func (g *feedGenerator) generateSplit() ([][]string, [][]string) {
	var ledger, declarations [][]string
	seq := 1
	for i := 0; len(ledger) < g.rows; i++ {
		doc := g.document(i)
		code := tariffCodes[g.rng.Intn(len(tariffCodes))]
		country := countries[g.rng.Intn(len(countries))]
		price := g.unitPrice()

		parts := 2 + g.rng.Intn(2)
		total := decimal.Zero
		for p := 0; p < parts; p++ {
			qty := decimal.NewFromInt(int64(20 + g.rng.Intn(80)))
			total = total.Add(qty)
			declarations = append(declarations, []string{
				doc, code, country, qty.String(), qty.Mul(price).Round(2).String(), strconv.Itoa(seq),
			})
			seq++
		}
		ledger = append(ledger, []string{
			doc, code, country, total.String(), total.Mul(price).Round(2).String(), "", "",
		})
	}
	return ledger, declarations
}

// generateNoisy emits the defects real feeds carry: zero-padded codes,
// lowercase countries, excluded rows, orphan declaration lines, small
// quantity drift inside the exact tolerance.
func (g *feedGenerator) generateNoisy() ([][]string, [][]string) {
	var ledger, declarations [][]string
	seq := 1
	for i := 0; len(ledger) < g.rows; i++ {
		doc := g.document(i)
		code := tariffCodes[g.rng.Intn(len(tariffCodes))]
		country := countries[g.rng.Intn(len(countries))]
		qty := decimal.NewFromInt(int64(10 + g.rng.Intn(200)))
		val := qty.Mul(g.unitPrice()).Round(2)

		ledgerCode := "0" + code
		ledgerCountry := country
		if g.rng.Intn(2) == 0 {
			ledgerCountry = lower(country)
		}
		notes := ""
		if g.rng.Intn(10) == 0 {
			notes = "NO INCLUIR - pending review"
		}
		drift := decimal.NewFromInt(int64(g.rng.Intn(3) - 1))

		ledger = append(ledger, []string{
			doc, ledgerCode, ledgerCountry, qty.Add(drift).String(), val.String(), "", notes,
		})
		declarations = append(declarations, []string{
			doc, code, country, qty.String(), val.String(), strconv.Itoa(seq),
		})
		seq++

		// Occasional orphan line no ledger row covers.
		if g.rng.Intn(8) == 0 {
			declarations = append(declarations, []string{
				doc, code, country, "0", "0", strconv.Itoa(seq),
			})
			seq++
		}
	}
	return ledger, declarations
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
