package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScheduleCmd(t *testing.T) {
	out, err := execute(t, "schedule", "--principal", "120000", "--rate", "12", "--term", "12", "--start", "2026-01-10")
	require.NoError(t, err)

	assert.Contains(t, out, "Payment: 10661.85")
	assert.Contains(t, out, "2026-02-10")
	assert.Contains(t, out, "2027-01-10")
	// header, 12 installments, totals row, after the payment line and blank line
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 16)
}

func TestScheduleCmd_InvalidInput(t *testing.T) {
	_, err := execute(t, "schedule", "--principal", "abc")
	assert.Error(t, err)

	_, err = execute(t, "schedule", "--principal", "1000", "--term", "0")
	assert.Error(t, err)

	_, err = execute(t, "schedule", "--principal", "1000", "--start", "10/01/2026")
	assert.Error(t, err)
}

func TestProductsAndCustomers(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "loans.db")
	catalog := filepath.Join(dir, "products.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`products:
  - code: PL-STD
    name: Personal loan
    minimum_amount: "1000"
    maximum_amount: "500000"
    minimum_term_months: 6
    maximum_term_months: 60
    interest_rate: "12"
    repayment_frequency: MONTHLY
    penalty_rate: "0.24"
`), 0o644))

	out, err := execute(t, "--db", db, "products", "import", catalog)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 products")

	out, err = execute(t, "--db", db, "products", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PL-STD")

	out, err = execute(t, "--db", db, "customers", "add", "cust_1", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "added customer cust_1")

	_, err = execute(t, "--db", db, "customers", "add", "cust_1", "Alice")
	assert.Error(t, err)

	out, err = execute(t, "--db", db, "reevaluate")
	require.NoError(t, err)
	assert.Contains(t, out, "evaluated=0 changed=0 defaulted=0 failed=0")
}
