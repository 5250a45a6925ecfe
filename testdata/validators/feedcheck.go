// Command feedcheck sanity-checks a ledger/declaration feed pair before a
// reconciliation run: header shape, numeric fields, duplicate declaration
// keys, and the global quantity/value balance.
//
// Usage:
//
//	go run feedcheck.go -ledger=../generated/clean_ledger.csv \
//	  -declarations=../generated/clean_declarations.csv
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

type feedTotals struct {
	rows     int
	excluded int
	qty      decimal.Decimal
	val      decimal.Decimal
}

func main() {
	var (
		ledgerPath = flag.String("ledger", "", "ledger CSV to check")
		declPath   = flag.String("declarations", "", "declaration CSV to check")
		qtyTol     = flag.Float64("qty-tolerance", 1, "balance quantity tolerance")
		valTol     = flag.Float64("value-tolerance", 2, "balance value tolerance")
	)
	flag.Parse()

	if *ledgerPath == "" || *declPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	problems := 0

	ledger, err := checkFeed(*ledgerPath, []string{"documentId", "tariffCode", "countryCode", "quantity", "value"}, "notes")
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	declarations, err := checkFeed(*declPath, []string{"documentId", "tariffCode", "countryCode", "quantity", "value", "sequenceId"}, "")
	if err != nil {
		log.Fatalf("declarations: %v", err)
	}

	problems += checkDuplicateKeys(*declPath)

	qtyDelta := ledger.qty.Sub(declarations.qty)
	valDelta := ledger.val.Sub(declarations.val)
	balanced := qtyDelta.Abs().LessThanOrEqual(decimal.NewFromFloat(*qtyTol)) &&
		valDelta.Abs().LessThanOrEqual(decimal.NewFromFloat(*valTol))

	fmt.Printf("Ledger:       %d rows (%d excluded), qty=%s val=%s\n",
		ledger.rows, ledger.excluded, ledger.qty, ledger.val)
	fmt.Printf("Declarations: %d lines, qty=%s val=%s\n",
		declarations.rows, declarations.qty, declarations.val)
	if balanced {
		fmt.Printf("BALANCED: Δqty=%s Δval=%s\n", qtyDelta, valDelta)
	} else {
		fmt.Printf("OUT OF BALANCE: Δqty=%s Δval=%s\n", qtyDelta, valDelta)
		problems++
	}

	if problems > 0 {
		fmt.Printf("\n%d problems found\n", problems)
		os.Exit(1)
	}
	fmt.Println("\nFeeds look consistent")
}

// checkFeed validates the header and sums the numeric columns. Rows whose
// notes column carries the exclusion marker stay out of the totals, matching
// the engine's balance rules.
func checkFeed(path string, required []string, notesColumn string) (*feedTotals, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	totals := &feedTotals{qty: decimal.Zero, val: decimal.Zero}
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		line++
		if isEmpty(record) {
			continue
		}
		totals.rows++

		if notesColumn != "" {
			if i, ok := index[notesColumn]; ok && i < len(record) {
				if strings.Contains(strings.ToUpper(record[i]), "NO INCLUIR") {
					totals.excluded++
					continue
				}
			}
		}

		qty, err := decimal.NewFromString(strings.TrimSpace(record[index["quantity"]]))
		if err != nil {
			fmt.Printf("%s:%d: unparseable quantity %q (engine will treat it as zero)\n",
				path, line, record[index["quantity"]])
			qty = decimal.Zero
		}
		val, err := decimal.NewFromString(strings.TrimSpace(record[index["value"]]))
		if err != nil {
			fmt.Printf("%s:%d: unparseable value %q (engine will treat it as zero)\n",
				path, line, record[index["value"]])
			val = decimal.Zero
		}
		totals.qty = totals.qty.Add(qty)
		totals.val = totals.val.Add(val)
	}

	return totals, nil
}

// checkDuplicateKeys reports declaration lines sharing a doc+code+sequence
// key; the engine's direct lookup keeps only the first.
func checkDuplicateKeys(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	seen := make(map[string]int)
	problems := 0
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		line++
		if isEmpty(record) {
			continue
		}
		key := fmt.Sprintf("%s-%s-%s",
			strings.TrimSpace(record[index["documentId"]]),
			strings.TrimLeft(strings.TrimSpace(record[index["tariffCode"]]), "0"),
			strings.TrimSpace(record[index["sequenceId"]]))
		if first, ok := seen[key]; ok {
			fmt.Printf("%s:%d: duplicate declaration key %s (first at line %d)\n", path, line, key, first)
			problems++
			continue
		}
		seen[key] = line
	}
	return problems
}

func isEmpty(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
